package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/metrics"
	"github.com/sagelab/researchd/internal/research"
)

// Registry is the process-wide table of sessions. Each session's state is
// exclusively owned by its workflow engine while running; the registry
// only ever holds snapshots, and an entry becomes immutable once
// finalized.
type Registry struct {
	store  Store
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-key writer serialization
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (r *Registry) keyLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Create allocates a fresh session with a pending state and a unique id.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	id := uuid.New().String()
	now := time.Now()
	sess := &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		State:     research.NewState(id),
	}
	if err := r.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	r.logger.Info("Created research session", zap.String("session_id", id))
	return sess, nil
}

// Get retrieves a session snapshot by id.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	return r.store.Get(ctx, id)
}

// Update stores a fresh state snapshot for an in-flight session. Writes
// to a finalized session are rejected.
func (r *Registry) Update(ctx context.Context, id string, state *research.State) error {
	lock := r.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Finalized {
		return ErrFinalized
	}
	sess.State = state
	sess.UpdatedAt = time.Now()
	return r.store.Put(ctx, sess)
}

// Finalize marks a session immutable with its terminal state. A second
// attempt for the same id fails with ErrAlreadyFinalized.
func (r *Registry) Finalize(ctx context.Context, id string, state *research.State) error {
	lock := r.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Finalized {
		return ErrAlreadyFinalized
	}
	now := time.Now()
	sess.State = state
	sess.Finalized = true
	sess.FinalizedAt = now
	sess.UpdatedAt = now
	if err := r.store.Put(ctx, sess); err != nil {
		return err
	}
	metrics.SessionsActive.Dec()
	metrics.SessionsFinalized.WithLabelValues(string(state.Status)).Inc()
	r.logger.Info("Finalized research session",
		zap.String("session_id", id),
		zap.String("status", string(state.Status)),
	)
	return nil
}

// Evict removes a session entry after the retention window.
func (r *Registry) Evict(ctx context.Context, id string) error {
	lock := r.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()
	return nil
}

// Close releases the underlying store.
func (r *Registry) Close() error { return r.store.Close() }
