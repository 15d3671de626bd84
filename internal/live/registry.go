// Package live pushes device state changes to connected WebSocket clients.
package live

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/models"
)

// Client is one connected subscriber. The registry writes encoded frames to
// Send; the connection's write pump drains it.
type Client struct {
	ID     string
	UserID string
	Send   chan []byte
}

// Registry tracks connected clients and fans messages out to all of them.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	log     zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		clients: make(map[*Client]struct{}),
		log:     log,
	}
}

func (r *Registry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client] = struct{}{}
}

// Remove drops the client and closes its Send channel. Removing twice is a
// no-op.
func (r *Registry) Remove(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client]; !ok {
		return
	}
	delete(r.clients, client)
	close(client.Send)
}

// Broadcast delivers data to every client. A client whose buffer is full
// misses the frame rather than stalling the others.
func (r *Registry) Broadcast(data []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for client := range r.clients {
		select {
		case client.Send <- data:
			delivered++
		default:
			r.log.Warn().Str("client_id", client.ID).Msg("live client buffer full, dropping update")
		}
	}
	return delivered
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// PublishDeviceUpdate broadcasts directly to this process's clients.
func (r *Registry) PublishDeviceUpdate(_ context.Context, update models.DeviceUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	r.Broadcast(data)
	return nil
}
