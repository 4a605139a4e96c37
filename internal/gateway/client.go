package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/meethub/backend/internal/event"
	"github.com/meethub/backend/internal/logger"
	"github.com/meethub/backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	// Time allowed to write an event to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next event or pong from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum event size allowed from peer
	maxEventSize = 64 * 1024 // 64KB

	// Send buffer size
	sendBufferSize = 256
)

// Client represents a single WebSocket connection bound to a user. It
// implements presence.Conn so the dispatcher can push to it without knowing
// about the transport.
type Client struct {
	// The websocket connection
	conn *websocket.Conn

	// Hub reference
	hub *Hub

	// User information, fixed at upgrade time
	userID   string
	username string

	// Buffered channel of outbound serialized events
	send chan []byte

	// Connection metadata
	ConnectedAt time.Time
	LastPingAt  time.Time
	RemoteAddr  string
	UserAgent   string

	// Rate limiting
	rateLimiter *RateLimiter

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Mutex for connection state
	mu sync.RWMutex

	// Closed flag
	closed bool
}

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	tokens    float64
	maxTokens float64
	refill    float64
	lastTime  time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxPerSecond int, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:    float64(burst),
		maxTokens: float64(burst),
		refill:    float64(maxPerSecond),
		lastTime:  time.Now(),
	}
}

// Allow checks if an action is allowed and consumes a token
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastTime).Seconds()
	r.lastTime = now

	r.tokens += elapsed * r.refill
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, userID, username string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	config := hub.GetRateLimitConfig()

	return &Client{
		hub:         hub,
		conn:        conn,
		userID:      userID,
		username:    username,
		send:        make(chan []byte, sendBufferSize),
		ConnectedAt: time.Now(),
		rateLimiter: NewRateLimiter(config.MaxEventsPerSecond, config.BurstSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// UserID returns the user this connection is bound to
func (c *Client) UserID() string {
	return c.userID
}

// Username returns the username this connection is bound to
func (c *Client) Username() string {
	return c.username
}

// ReadPump pumps events from the WebSocket connection to the hub's handlers
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxEventSize)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		readCtx, readCancel := context.WithTimeout(c.ctx, pongWait)
		_, data, err := c.conn.Read(readCtx)
		readCancel()

		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				logger.Log.Info("Client disconnected normally", zap.String("user_id", c.userID))
			} else if c.ctx.Err() == nil {
				// Only log errors if we're not shutting down
				logger.Log.Error("Read error for client", zap.String("user_id", c.userID), zap.Error(err))
				c.hub.stats.Errors.Add(1)
				metrics.Get().GatewayErrors.Inc()
			}
			return
		}

		if !c.rateLimiter.Allow() {
			c.SendError("RATE_LIMITED", "Too many events, please slow down")
			c.hub.stats.Errors.Add(1)
			continue
		}

		c.hub.stats.EventsReceived.Add(1)
		metrics.Get().EventsReceived.Inc()

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Log.Warn("Gateway JSON parse error",
				zap.String("user_id", c.userID),
				zap.Error(err))
			c.SendError("BAD_REQUEST", "Failed to parse event")
			continue
		}

		c.handleEvent(&env)
	}
}

// WritePump pumps events from the send channel to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
			return

		case data := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()

			if err != nil {
				logger.Log.Error("Write error for client", zap.String("user_id", c.userID), zap.Error(err))
				c.hub.stats.Errors.Add(1)
				metrics.Get().GatewayErrors.Inc()
				return
			}
			c.hub.stats.EventsSent.Add(1)
			metrics.Get().EventsSent.Inc()

		case <-ticker.C:
			c.mu.Lock()
			c.LastPingAt = time.Now()
			c.mu.Unlock()

			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				logger.Log.Warn("Ping failed for client", zap.String("user_id", c.userID), zap.Error(err))
				return
			}
		}
	}
}

// handleEvent routes incoming events to the appropriate handler
func (c *Client) handleEvent(env *event.Envelope) {
	if env.Timestamp.IsZero() {
		env.Timestamp = event.FlexibleTime{Time: time.Now().UTC()}
	}

	switch env.Type {
	case event.TypePing, "heartbeat": // "heartbeat" is an alias for ping
		c.handlePing(env)
		return

	case event.TypeAuth:
		// Auth happened during the upgrade; acknowledge re-auth attempts
		c.handleAuth(env)
		return
	}

	if handler, ok := c.hub.GetHandler(env.Type); ok {
		if err := handler(c, env); err != nil {
			logger.Log.Error("Handler error",
				zap.String("type", env.Type),
				zap.String("user_id", c.userID),
				zap.Error(err))
		}
		return
	}

	logger.Log.Warn("Unknown event type",
		zap.String("user_id", c.userID),
		zap.String("type", env.Type))
	c.SendError("BAD_REQUEST", fmt.Sprintf("Unknown event type: %s", env.Type))
}

// handlePing responds to ping events with pong
func (c *Client) handlePing(env *event.Envelope) {
	var ping event.PingPayload
	if err := env.ParsePayload(&ping); err != nil {
		ping.ClientTime = 0
	}

	serverTime := time.Now().UnixMilli()

	pong := event.New(event.TypePong, event.PongPayload{
		ClientTime: ping.ClientTime,
		ServerTime: serverTime,
		Latency:    serverTime - ping.ClientTime,
	})
	if env.ID != "" {
		pong.ReplyTo = env.ID
	}

	// Best-effort pong response - connection may be closing
	_ = c.Send(pong)
}

// handleAuth acknowledges re-authentication requests
func (c *Client) handleAuth(env *event.Envelope) {
	_ = c.Send(event.New(event.TypeAuth, event.AuthPayload{
		UserID: c.userID,
		Status: "authenticated",
	}))
}

// Send queues an event for this connection. Implements presence.Conn.
func (c *Client) Send(env *event.Envelope) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("client connection closed")
	}
	c.mu.RUnlock()

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("client shutting down")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// SendError sends an error event to the client
func (c *Client) SendError(code, message string) {
	_ = c.Send(event.NewError(code, message))
}

// Close tears down the client connection. Idempotent, and the only place
// allowed to end the connection's lifetime: the send channel itself is never
// closed, so concurrent Send calls cannot panic on it.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	c.cancel()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

// IsClosed returns whether the client connection is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// GetInfo returns client information
func (c *Client) GetInfo() ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientInfo{
		UserID:      c.userID,
		Username:    c.username,
		ConnectedAt: c.ConnectedAt,
		LastPingAt:  c.LastPingAt,
		RemoteAddr:  c.RemoteAddr,
		UserAgent:   c.UserAgent,
	}
}

// ClientInfo represents public client information
type ClientInfo struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connected_at"`
	LastPingAt  time.Time `json:"last_ping_at"`
	RemoteAddr  string    `json:"remote_addr"`
	UserAgent   string    `json:"user_agent"`
}
