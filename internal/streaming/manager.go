package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType enumerates the stream record types.
type EventType string

const (
	EventMessage  EventType = "message"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// CompletionResult is the payload of the single complete event.
type CompletionResult struct {
	Domain     string  `json:"domain"`
	Question   string  `json:"question"`
	Confidence float64 `json:"confidence"`
	PaperURL   string  `json:"paperUrl"`
	SessionID  string  `json:"sessionId"`
}

// Event is one record on a session's stream. Agent carries the emitting
// stage identity as structured data; consumers must not re-derive it from
// the content text.
type Event struct {
	SessionID string            `json:"session_id"`
	Type      EventType         `json:"type"`
	Agent     string            `json:"agent,omitempty"`
	Content   string            `json:"content,omitempty"`
	Value     int               `json:"value,omitempty"`
	Result    *CompletionResult `json:"result,omitempty"`
	Message   string            `json:"message,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Seq       uint64            `json:"seq"`
}

// Marshal returns JSON for SSE data lines and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides per-session ordered pub/sub for workflow events, with a
// ring buffer per session for Last-Event-ID replay.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	closed      map[string]bool
	capacity    int
}

// NewManager creates a streaming manager with the given replay capacity.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		closed:      make(map[string]bool),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a session; the caller must drain
// it and call Unsubscribe. Subscribing to a closed session returns an
// already-closed channel; use ReplaySince for the backlog.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed[sessionID] {
		close(ch)
		return ch
	}
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[sessionID]; ok {
		if _, present := subs[ch]; present {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, sessionID)
		}
	}
}

// Publish appends an event to the session's stream, assigning the next
// sequence number, and fans it out to subscribers. Publishing after Close
// is a no-op; the terminal event must be the last one published.
func (m *Manager) Publish(sessionID string, evt Event) {
	m.mu.Lock()
	if m.closed[sessionID] {
		m.mu.Unlock()
		return
	}
	rg := m.history[sessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[sessionID] = rg
	}
	rg.nextSeq++
	evt.SessionID = sessionID
	evt.Seq = rg.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	rg.push(evt)
	subs := m.subscribers[sessionID]
	targets := make([]chan Event, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	m.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			// drop for slow subscribers; replay covers the gap
		}
	}
}

// Close marks the session's stream finished and closes all subscriber
// channels. Replay history is retained until Forget.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed[sessionID] {
		return
	}
	m.closed[sessionID] = true
	for ch := range m.subscribers[sessionID] {
		close(ch)
	}
	delete(m.subscribers, sessionID)
}

// Closed reports whether the session's stream has terminated.
func (m *Manager) Closed(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed[sessionID]
}

// ReplaySince returns events with Seq > since, best-effort within ring
// capacity.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[sessionID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops a session's replay history after the retention window.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
	delete(m.closed, sessionID)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
