package session

import (
	"context"
	"sync"
)

// Store persists registry entries. Implementations must be safe for
// concurrent use; the Registry serializes writers per key above this
// interface.
type Store interface {
	Put(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// memoryStore is the default in-process store. Entries are deep-copied
// on both Put and Get so readers see true snapshots, matching the JSON
// round-trip the redis store gets for free.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore returns an in-memory session store.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]*Session)}
}

func snapshot(sess *Session) *Session {
	cp := *sess
	if sess.State != nil {
		cp.State = sess.State.Clone()
	}
	return &cp
}

func (s *memoryStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = snapshot(sess)
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(sess), nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memoryStore) Close() error { return nil }
