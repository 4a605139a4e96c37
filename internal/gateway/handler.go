package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/meethub/backend/internal/auth"
	"github.com/meethub/backend/internal/dispatch"
	apperrors "github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/event"
	"github.com/meethub/backend/internal/logger"
	"github.com/meethub/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler handles WebSocket HTTP upgrade requests and wires inbound events to
// the dispatcher.
type Handler struct {
	hub        *Hub
	verifier   auth.Verifier
	dispatcher *dispatch.Dispatcher
	db         *gorm.DB
}

// NewHandler creates a new gateway handler
func NewHandler(hub *Hub, verifier auth.Verifier, dispatcher *dispatch.Dispatcher, db *gorm.DB) *Handler {
	return &Handler{
		hub:        hub,
		verifier:   verifier,
		dispatcher: dispatcher,
		db:         db,
	}
}

// HandleWebSocket handles WebSocket upgrade requests.
// Authentication is done via JWT token in query param: ?token=...
// Or via Authorization header: Bearer <token>
func (h *Handler) HandleWebSocket(c *gin.Context) {
	user, err := h.authenticateRequest(c)
	if err != nil {
		logger.Log.Warn("Gateway auth failed", zap.Error(err), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   string(apperrors.ErrAuth),
			"message": "authentication failed",
		})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// In production, set specific origins
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		logger.Log.Error("Gateway upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, user.ID, user.Username)
	client.RemoteAddr = c.ClientIP()
	client.UserAgent = c.GetHeader("User-Agent")

	h.hub.Register(client)
	h.setOnline(c.Request.Context(), user.ID, true)

	_ = client.Send(event.New(event.TypeSystem, event.SystemPayload{
		Event:   "connected",
		Message: "Welcome to MeetHub!",
		Data: map[string]interface{}{
			"user_id":     user.ID,
			"username":    user.Username,
			"server_time": time.Now().UTC().UnixMilli(),
		},
	}))

	go client.WritePump()
	client.ReadPump() // Blocks until the client disconnects

	// Last connection gone means the user is offline
	if !h.hub.Registry().IsOnline(user.ID) {
		h.setOnline(context.Background(), user.ID, false)
	}
}

// setOnline records the user's presence flag and activity time
func (h *Handler) setOnline(ctx context.Context, userID string, online bool) {
	err := h.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"is_online":      online,
			"last_active_at": time.Now().UTC(),
		}).Error
	if err != nil {
		logger.WarnWithFields("Failed to update online status", err,
			zap.String("user_id", userID),
		)
	}
}

// authenticateRequest extracts the bearer token and resolves it to a user
func (h *Handler) authenticateRequest(c *gin.Context) (*models.User, error) {
	tokenString := ""

	if token := c.Query("token"); token != "" {
		tokenString = token
	}

	if header := c.GetHeader("Authorization"); header != "" {
		// Support "Bearer <token>" format
		if strings.HasPrefix(header, "Bearer ") {
			tokenString = strings.TrimPrefix(header, "Bearer ")
		} else {
			tokenString = header
		}
	}

	return h.verifier.VerifyToken(c.Request.Context(), tokenString)
}

// RegisterDefaultHandlers wires the messaging events to the dispatcher
func (h *Handler) RegisterDefaultHandlers() {
	// Clients announce themselves after connect; the binding already exists,
	// so this is just acknowledged.
	h.hub.RegisterHandler(event.TypeJoin, func(client *Client, env *event.Envelope) error {
		return client.Send(event.NewReply(env, event.TypeSystem, event.SystemPayload{
			Event: "joined",
			Data: map[string]interface{}{
				"user_id": client.UserID(),
			},
		}))
	})

	h.hub.RegisterHandler(event.TypeSendMessage, func(client *Client, env *event.Envelope) error {
		var payload event.SendMessagePayload
		if err := env.ParsePayload(&payload); err != nil {
			client.SendError(string(apperrors.ErrBadRequest), "Malformed send_message payload")
			return nil
		}

		// Detached from the connection context: a disconnect mid-dispatch
		// must not abort the persistence it triggered.
		_, err := h.dispatcher.Send(context.WithoutCancel(client.ctx), client.UserID(), payload.ReceiverID, payload.Content)
		if err != nil {
			h.sendDispatchError(client, env, err)
			return nil
		}
		// The dispatcher already confirmed to all sender connections
		return nil
	})

	h.hub.RegisterHandler(event.TypeMarkRead, func(client *Client, env *event.Envelope) error {
		var payload event.MarkReadPayload
		if err := env.ParsePayload(&payload); err != nil {
			client.SendError(string(apperrors.ErrBadRequest), "Malformed mark_read payload")
			return nil
		}

		if err := h.dispatcher.MarkRead(context.WithoutCancel(client.ctx), client.UserID(), payload.MessageIDs); err != nil {
			h.sendDispatchError(client, env, err)
		}
		return nil
	})

	h.hub.RegisterHandler(event.TypeNotificationsAck, func(client *Client, env *event.Envelope) error {
		if err := h.dispatcher.ResetNotifications(context.WithoutCancel(client.ctx), client.UserID()); err != nil {
			h.sendDispatchError(client, env, err)
		}
		return nil
	})
}

// sendDispatchError maps a dispatcher error to an error event on this client
func (h *Handler) sendDispatchError(client *Client, env *event.Envelope, err error) {
	code := apperrors.CodeOf(err)
	msg := "Internal error"
	if apiErr, ok := apperrors.AsAPIError(err); ok {
		msg = apiErr.Message
	}

	errEnv := event.NewError(string(code), msg)
	errEnv.ReplyTo = env.ID
	_ = client.Send(errEnv)
}

// HandleStats returns gateway statistics (for monitoring)
func (h *Handler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gateway":      h.hub.GetStats(),
		"online_users": h.hub.Registry().OnlineUsers(),
		"timestamp":    time.Now().UTC(),
	})
}

// HandleOnlineStatus checks if specific users are online
func (h *Handler) HandleOnlineStatus(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses := make(map[string]bool)
	for _, userID := range req.UserIDs {
		statuses[userID] = h.hub.Registry().IsOnline(userID)
	}

	c.JSON(http.StatusOK, gin.H{
		"statuses":  statuses,
		"timestamp": time.Now().UTC(),
	})
}

// Shutdown gracefully shuts down the gateway
func (h *Handler) Shutdown(ctx context.Context) error {
	return h.hub.Shutdown(ctx)
}

// GetHub returns the hub for external access
func (h *Handler) GetHub() *Hub {
	return h.hub
}
