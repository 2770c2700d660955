package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// AlertStream fans enriched alerts out to dashboard websocket clients.
// Read-only: client frames are ignored.
type AlertStream struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewAlertStream creates an empty stream hub
func NewAlertStream(log zerolog.Logger) *AlertStream {
	return &AlertStream{
		log:     log.With().Str("component", "alert_stream").Logger(),
		clients: make(map[chan []byte]struct{}),
	}
}

// HandleBusAlert receives alert frames from the bus and broadcasts them.
// Slow clients drop frames rather than blocking the bus callback.
func (s *AlertStream) HandleBusAlert(subject string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

// HandleWebSocket upgrades GET /alerts/stream and relays alert frames until
// the client disconnects.
func (s *AlertStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin enforcement happens at the CORS layer
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := make(chan []byte, 32)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, ch)
		s.mu.Unlock()
	}()

	s.log.Debug().Msg("Alert stream client connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("Alert stream client dropped")
				return
			}
		}
	}
}
