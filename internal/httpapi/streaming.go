package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/streaming"
)

// StreamingHandler serves SSE and WebSocket endpoints for session events.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers streaming routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	h.RegisterWebSocket(mux)
}

// handleSSE streams events for a session via Server-Sent Events.
// GET /stream/sse?session_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, `{"error":"session_id required"}`, http.StatusBadRequest)
		return
	}
	lastID := lastEventID(r)
	serveSSE(w, r, h.mgr, sessionID, lastID, h.logger)
}

// lastEventID reads the replay cursor from the Last-Event-ID header or
// the last_event_id query parameter.
func lastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// typeFilter parses the optional comma-separated types query parameter.
func typeFilter(r *http.Request) map[streaming.EventType]struct{} {
	filter := map[streaming.EventType]struct{}{}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				filter[streaming.EventType(t)] = struct{}{}
			}
		}
	}
	return filter
}

// serveSSE subscribes to the session stream and writes SSE frames until
// the stream terminates or the client disconnects. A finished session
// gets its backlog replayed and the connection closed.
func serveSSE(w http.ResponseWriter, r *http.Request, mgr *streaming.Manager, sessionID string, lastID uint64, logger *zap.Logger) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	filter := typeFilter(r)
	match := func(t streaming.EventType) bool {
		if len(filter) == 0 {
			return true
		}
		_, ok := filter[t]
		return ok
	}

	ch := mgr.Subscribe(sessionID, 256)
	defer mgr.Unsubscribe(sessionID, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", sessionID)
	flusher.Flush()

	// Replay backlog before live events. Seq of the last replayed event
	// guards against duplicates from the live channel.
	var replayed uint64
	for _, ev := range mgr.ReplaySince(sessionID, lastID) {
		if !match(ev.Type) {
			continue
		}
		writeSSEEvent(w, ev)
		replayed = ev.Seq
	}
	flusher.Flush()

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("SSE client disconnected", zap.String("session_id", sessionID))
			return
		case evt, open := <-ch:
			if !open {
				// Stream terminated; catch any tail events published
				// between replay and close, then end the response.
				for _, ev := range mgr.ReplaySince(sessionID, replayed) {
					if match(ev.Type) {
						writeSSEEvent(w, ev)
					}
				}
				flusher.Flush()
				return
			}
			if evt.Seq <= replayed {
				continue
			}
			replayed = evt.Seq
			if !match(evt.Type) {
				continue
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev streaming.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	if ev.Type != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(ev.Marshal()))
}
