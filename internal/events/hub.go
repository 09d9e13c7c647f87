// Package events fans job record updates out to websocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"renderstudio/internal/domain"
)

// Update is the message pushed to subscribers.
type Update struct {
	Type      string           `json:"type"`
	JobID     string           `json:"job_id"`
	JobType   domain.JobType   `json:"job_type"`
	Status    domain.JobStatus `json:"status"`
	Mode      string           `json:"mode,omitempty"`
	JobFolder string           `json:"job_folder"`
	Error     string           `json:"error,omitempty"`
	Revision  int64            `json:"revision"`
	Timestamp time.Time        `json:"timestamp"`
}

// Hub tracks websocket clients and broadcasts job updates to all of them.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	mu         sync.Mutex
}

// NewHub creates an idle hub; call Run to start it.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled. Once it
// returns, handlers still serving clients exit without waiting on the hub.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				_ = client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", total).Msg("events: client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", total).Msg("events: client disconnected")
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warn().Err(err).Msg("events: dropping client after write failure")
					_ = client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues a record update. Updates are dropped when the queue is full
// so publishers never block on slow subscribers.
func (h *Hub) Publish(rec domain.JobRecord) {
	data, err := json.Marshal(Update{
		Type:      "job_update",
		JobID:     rec.JobID,
		JobType:   rec.JobType,
		Status:    rec.Status,
		Mode:      rec.Mode,
		JobFolder: rec.JobFolder,
		Error:     rec.Error,
		Revision:  rec.Revision,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", rec.JobID).Msg("events: marshal update")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Str("job_id", rec.JobID).Msg("events: broadcast queue full, dropping update")
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("events: upgrade failed")
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- conn:
	case <-h.done:
		_ = conn.Close()
	case <-r.Context().Done():
		_ = conn.Close()
	}
}
