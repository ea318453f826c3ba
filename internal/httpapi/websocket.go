package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sagelab/researchd/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secure via proxy in prod
}

// RegisterWebSocket registers the /stream/ws endpoint.
func (h *StreamingHandler) RegisterWebSocket(mux *http.ServeMux) {
	mux.HandleFunc("/stream/ws", h.handleWS)
}

// handleWS streams session events over a WebSocket.
// GET /stream/ws?session_id=<id>
func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	filter := typeFilter(r)
	match := func(ev streaming.EventType) bool {
		if len(filter) == 0 {
			return true
		}
		_, ok := filter[ev]
		return ok
	}
	lastID := lastEventID(r)

	ch := h.mgr.Subscribe(sessionID, 256)
	defer h.mgr.Unsubscribe(sessionID, ch)

	var replayed uint64
	for _, ev := range h.mgr.ReplaySince(sessionID, lastID) {
		if !match(ev.Type) {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		replayed = ev.Seq
	}

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	// Reader pump, discards client messages.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				for _, tail := range h.mgr.ReplaySince(sessionID, replayed) {
					if match(tail.Type) {
						if err := conn.WriteJSON(tail); err != nil {
							return
						}
					}
				}
				return
			}
			if ev.Seq <= replayed {
				continue
			}
			replayed = ev.Seq
			if !match(ev.Type) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
