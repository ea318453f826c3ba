package tools

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/metrics"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerHalfOpen:
		return "half-open"
	case breakerOpen:
		return "open"
	}
	return "unknown"
}

// Breaker trips after a run of consecutive provider failures and lets a
// single probe through once the cooldown elapses. An open breaker turns
// provider calls into immediate degraded results instead of stacking
// timeouts on a dead upstream.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	state    breakerState
	failures int
	probing  bool
	openedAt time.Time
}

func NewBreaker(name string, threshold int, cooldown time.Duration, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(breakerClosed))
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
	}
}

// Allow reports whether a provider call may proceed. In the half-open
// state only one probe runs at a time; its outcome decides the next
// state via Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(breakerHalfOpen)
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Record feeds a call outcome back into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.probing = false
		if success {
			b.failures = 0
			b.setState(breakerClosed)
		} else {
			b.openedAt = time.Now()
			b.setState(breakerOpen)
		}
		return
	}
	if success {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == breakerClosed && b.failures >= b.threshold {
		b.openedAt = time.Now()
		b.setState(breakerOpen)
	}
}

func (b *Breaker) setState(s breakerState) {
	if b.state == s {
		return
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", s.String()),
	)
	b.state = s
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(s))
}
