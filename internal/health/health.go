// Package health provides liveness and readiness reporting for the
// service and its dependencies.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus is the outcome of one health check.
type CheckStatus string

const (
	StatusHealthy   CheckStatus = "healthy"
	StatusDegraded  CheckStatus = "degraded"
	StatusUnhealthy CheckStatus = "unhealthy"
)

// CheckResult is one component's health report.
type CheckResult struct {
	Component string        `json:"component"`
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Critical  bool          `json:"critical"`
}

// Checker probes one dependency. Critical failures mark the service
// unhealthy; non-critical ones only degrade it.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	IsCritical() bool
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc struct {
	CheckName string
	Critical  bool
	Fn        func(ctx context.Context) CheckResult
}

func (c CheckFunc) Name() string                          { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }
func (c CheckFunc) IsCritical() bool                      { return c.Critical }

// Manager runs registered checks on demand and serves the probe
// endpoints.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers: make(map[string]Checker),
		logger:   logger,
	}
}

// Register adds a checker, replacing any previous one with the same name.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[c.Name()] = c
}

// report is the aggregate health payload.
type report struct {
	Status     CheckStatus            `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Components map[string]CheckResult `json:"components,omitempty"`
}

// Evaluate runs every check with a shared deadline.
func (m *Manager) Evaluate(ctx context.Context) report {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	rep := report{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]CheckResult, len(checkers)),
	}
	for _, c := range checkers {
		start := time.Now()
		res := c.Check(ctx)
		res.Component = c.Name()
		res.Critical = c.IsCritical()
		res.Duration = time.Since(start)
		rep.Components[c.Name()] = res

		switch res.Status {
		case StatusUnhealthy:
			if c.IsCritical() {
				rep.Status = StatusUnhealthy
			} else if rep.Status == StatusHealthy {
				rep.Status = StatusDegraded
			}
		case StatusDegraded:
			if rep.Status == StatusHealthy {
				rep.Status = StatusDegraded
			}
		}
	}
	return rep
}

// RegisterRoutes wires the probe endpoints: /healthz is pure liveness,
// /health evaluates dependencies, /readiness mirrors /health with a 503
// on critical failure.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	serveReport := func(w http.ResponseWriter, r *http.Request) {
		rep := m.Evaluate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if rep.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(rep)
	}
	mux.HandleFunc("/health", serveReport)
	mux.HandleFunc("/readiness", serveReport)
}
