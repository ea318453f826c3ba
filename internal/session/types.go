package session

import (
	"errors"
	"time"

	"github.com/sagelab/researchd/internal/research"
)

var (
	// ErrNotFound is returned when a session doesn't exist.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyFinalized is returned on a second finalize attempt.
	ErrAlreadyFinalized = errors.New("session already finalized")

	// ErrFinalized is returned when writing to a finalized session.
	ErrFinalized = errors.New("session is immutable after finalization")
)

// Session is a registry entry: the workflow state plus finalization
// bookkeeping. Once Finalized is set the entry is write-once-immutable.
type Session struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Finalized   bool            `json:"finalized"`
	FinalizedAt time.Time       `json:"finalized_at,omitempty"`
	State       *research.State `json:"state"`
}
