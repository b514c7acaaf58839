package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a slow WebSocket client can stall an event
// write before the connection is dropped.
const writeWait = 10 * time.Second

// handleEvents upgrades the connection to a WebSocket and relays bus
// events as JSON until the client disconnects. Slow clients miss
// events rather than backing up publishers (the bus drops on full
// buffers) and are cut off if a single write stalls.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errTypeInternal, "event stream disabled", nil)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.cfg.CORSOrigin == "*" || origin == s.cfg.CORSOrigin
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	// Reads are discarded; the read loop exists to notice the client
	// going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Debug("event stream write failed", "error", err)
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
