// Package gateway provides the WebSocket entry point for real-time messaging.
// Uses github.com/coder/websocket - the modern, context-aware WebSocket library for Go.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meethub/backend/internal/event"
	"github.com/meethub/backend/internal/logger"
	"github.com/meethub/backend/internal/metrics"
	"github.com/meethub/backend/internal/presence"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients and routes outbound events. User
// presence itself lives in the registry; the hub owns connection lifecycle.
type Hub struct {
	// Authoritative user -> connections mapping, shared with the dispatcher
	registry *presence.Registry

	// All clients regardless of user, for shutdown and broadcast
	allClients map[*Client]struct{}

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for client map and handler access
	mu sync.RWMutex

	// Counters exposed on the stats endpoint
	stats *Stats

	// Shutdown handling
	ctx    context.Context
	cancel context.CancelFunc

	// Event handlers by event type
	handlers map[string]EventHandler

	// Rate limiter config applied to new clients
	rateLimitConfig RateLimitConfig
}

// Stats tracks gateway statistics
type Stats struct {
	TotalConnections   atomic.Int64
	ActiveConnections  atomic.Int64
	EventsReceived     atomic.Int64
	EventsSent         atomic.Int64
	Errors             atomic.Int64
	ConnectionsDropped atomic.Int64
}

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	// MaxEventsPerSecond per client
	MaxEventsPerSecond int
	// BurstSize allows short bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxEventsPerSecond: 10,
		BurstSize:          20,
	}
}

// EventHandler processes incoming events of a specific type
type EventHandler func(client *Client, env *event.Envelope) error

// NewHub creates a new Hub over the given presence registry
func NewHub(registry *presence.Registry) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:        registry,
		allClients:      make(map[*Client]struct{}),
		register:        make(chan *Client, 256),
		unregister:      make(chan *Client, 256),
		stats:           &Stats{},
		ctx:             ctx,
		cancel:          cancel,
		handlers:        make(map[string]EventHandler),
		rateLimitConfig: DefaultRateLimitConfig(),
	}
}

// Registry returns the presence registry the hub maintains
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// RegisterHandler registers a handler for a specific event type
func (h *Hub) RegisterHandler(eventType string, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[eventType] = handler
}

// GetHandler returns the handler for an event type
func (h *Hub) GetHandler(eventType string) (EventHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[eventType]
	return handler, ok
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	logger.Log.Info("Gateway hub starting")

	for {
		select {
		case <-h.ctx.Done():
			logger.Log.Info("Gateway hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// registerClient adds a client to the hub and binds it in the registry
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.allClients[client] = struct{}{}
	h.mu.Unlock()

	h.registry.Register(client)

	h.stats.TotalConnections.Add(1)
	h.stats.ActiveConnections.Add(1)
	metrics.Get().ConnectionsTotal.Inc()
	metrics.Get().ActiveConnections.Inc()

	logger.Log.Info("Client connected",
		zap.String("user_id", client.UserID()),
		zap.Int64("active", h.stats.ActiveConnections.Load()),
	)
}

// unregisterClient removes a client from the hub and the registry
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.allClients[client]
	if ok {
		delete(h.allClients, client)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	h.registry.Unregister(client)
	// Teardown goes through Close, never close(client.send): the dispatcher
	// pushes to that channel from other goroutines and a close would race
	// with an in-flight Send. WritePump exits on the context instead.
	client.Close()

	h.stats.ActiveConnections.Add(-1)
	metrics.Get().ActiveConnections.Dec()

	logger.Log.Info("Client disconnected",
		zap.String("user_id", client.UserID()),
		zap.Int64("active", h.stats.ActiveConnections.Load()),
	)
}

// SendToUser pushes an event to every connection of a user
func (h *Hub) SendToUser(userID string, env *event.Envelope) {
	for _, conn := range h.registry.Lookup(userID) {
		if err := conn.Send(env); err != nil {
			h.stats.ConnectionsDropped.Add(1)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// GetStats returns a point-in-time snapshot of hub statistics
func (h *Hub) GetStats() StatsSnapshot {
	return StatsSnapshot{
		TotalConnections:   h.stats.TotalConnections.Load(),
		ActiveConnections:  h.stats.ActiveConnections.Load(),
		EventsReceived:     h.stats.EventsReceived.Load(),
		EventsSent:         h.stats.EventsSent.Load(),
		Errors:             h.stats.Errors.Load(),
		ConnectionsDropped: h.stats.ConnectionsDropped.Load(),
	}
}

// StatsSnapshot is a point-in-time snapshot of hub statistics
type StatsSnapshot struct {
	TotalConnections   int64 `json:"total_connections"`
	ActiveConnections  int64 `json:"active_connections"`
	EventsReceived     int64 `json:"events_received"`
	EventsSent         int64 `json:"events_sent"`
	Errors             int64 `json:"errors"`
	ConnectionsDropped int64 `json:"connections_dropped"`
}

// String implements Stringer for StatsSnapshot
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"connections=%d/%d events=rx:%d/tx:%d errors=%d dropped=%d",
		s.ActiveConnections, s.TotalConnections,
		s.EventsReceived, s.EventsSent,
		s.Errors, s.ConnectionsDropped,
	)
}

// Shutdown gracefully shuts down the hub
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		// The run loop drains and closes all clients on cancel
		for {
			h.mu.RLock()
			remaining := len(h.allClients)
			h.mu.RUnlock()
			if remaining == 0 {
				close(done)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()

	select {
	case <-done:
		logger.Log.Info("Gateway hub shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// shutdown closes all client connections
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	shutdownMsg := event.New(event.TypeSystem, event.SystemPayload{
		Event: "server_shutdown",
	})
	data, _ := json.Marshal(shutdownMsg)

	for client := range h.allClients {
		select {
		case client.send <- data:
		default:
		}
		h.registry.Unregister(client)
		client.Close()
		delete(h.allClients, client)
	}
}

// SetRateLimitConfig updates the rate limiting configuration
func (h *Hub) SetRateLimitConfig(config RateLimitConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rateLimitConfig = config
}

// GetRateLimitConfig returns the current rate limit configuration
func (h *Hub) GetRateLimitConfig() RateLimitConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rateLimitConfig
}
