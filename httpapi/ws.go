package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rustyeddy/sprinkler/mediator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts every origin: this endpoint serves read-only
// telemetry, not a privileged API, and the mediator's debug HTTP server
// that mounts it sits behind its own network boundary.
func checkOrigin(r *http.Request) bool {
	return true
}

// EventStream upgrades to a websocket and streams mediator.Events as they
// are recorded, closing the connection when the client disconnects.
type EventStream struct {
	Events *mediator.EventLog
}

// NewEventStream returns an EventStream reading from log.
func NewEventStream(log *mediator.EventLog) *EventStream {
	return &EventStream{Events: log}
}

func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("httpapi: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := s.Events.Subscribe()
	defer unsubscribe()

	for _, e := range s.Events.Recent() {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
