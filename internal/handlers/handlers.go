// Package handlers implements the REST surface over the messaging core.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meethub/backend/internal/directory"
	"github.com/meethub/backend/internal/dispatch"
	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/middleware"
	"github.com/meethub/backend/internal/models"
	"github.com/meethub/backend/internal/notify"
	"github.com/meethub/backend/internal/store"
)

// Handler carries the dependencies for all REST endpoints
type Handler struct {
	dispatcher *dispatch.Dispatcher
	store      store.MessageStore
	counters   notify.Aggregator
	directory  directory.Directory
}

// New creates the REST handler set
func New(dispatcher *dispatch.Dispatcher, messageStore store.MessageStore, counters notify.Aggregator, dir directory.Directory) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		store:      messageStore,
		counters:   counters,
		directory:  dir,
	}
}

// SendMessageRequest is the body of POST /api/messages
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

// MarkReadRequest is the body of POST /api/messages/read
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
}

// messageResponse is the wire shape of a stored message
type messageResponse struct {
	MessageID     string `json:"message_id"`
	SenderID      string `json:"sender_id"`
	ReceiverID    string `json:"receiver_id"`
	Content       string `json:"content"`
	DeliveryState string `json:"delivery_state"`
	Seq           int64  `json:"seq"`
	CreatedAt     int64  `json:"created_at"`
}

func toMessageResponse(m *models.Message) messageResponse {
	return messageResponse{
		MessageID:     m.ID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Content:       m.Content,
		DeliveryState: string(m.DeliveryState),
		Seq:           m.Seq,
		CreatedAt:     m.CreatedAt.UnixMilli(),
	}
}

// SendMessage handles POST /api/messages. It runs the same dispatch pipeline
// as the gateway's send_message event: persist, then fan out.
func (h *Handler) SendMessage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, errors.Auth("not authenticated"))
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest("invalid request body"))
		return
	}

	result, err := h.dispatcher.Send(c.Request.Context(), user.ID, req.ReceiverID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   toMessageResponse(result.Message),
		"delivered": result.Delivered,
	})
}

// GetConversation handles GET /api/conversations/:userID/messages.
// Query params: since (exclusive seq cursor, default 0), limit (default 100).
func (h *Handler) GetConversation(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, errors.Auth("not authenticated"))
		return
	}

	peerID := c.Param("userID")

	sinceSeq, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil || sinceSeq < 0 {
		respondError(c, errors.Validation("since", "since must be a non-negative integer"))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		respondError(c, errors.Validation("limit", "limit must be a non-negative integer"))
		return
	}

	messages, err := h.store.ListConversation(c.Request.Context(), user.ID, peerID, sinceSeq, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	// Decorate both participants for the conversation header
	profiles, err := h.directory.GetProfiles(c.Request.Context(), []string{user.ID, peerID})
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]messageResponse, 0, len(messages))
	var nextCursor int64 = sinceSeq
	for i := range messages {
		responses = append(responses, toMessageResponse(&messages[i]))
		if messages[i].Seq > nextCursor {
			nextCursor = messages[i].Seq
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":     responses,
		"participants": profiles,
		"next_cursor":  nextCursor,
		"count":        len(responses),
	})
}

// MarkMessagesRead handles POST /api/messages/read. The batch is
// all-or-nothing; a single unknown or foreign id fails the whole request.
func (h *Handler) MarkMessagesRead(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, errors.Auth("not authenticated"))
		return
	}

	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.dispatcher.MarkRead(c.Request.Context(), user.ID, req.MessageIDs); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "read",
		"count":     len(req.MessageIDs),
		"timestamp": time.Now().UTC(),
	})
}

// GetNotifications handles GET /api/notifications and returns the caller's
// unread counter. A user who was never notified gets a zero counter, not a 404.
func (h *Handler) GetNotifications(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, errors.Auth("not authenticated"))
		return
	}

	counter, err := h.counters.Get(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	if counter == nil {
		counter = &models.NotificationCounter{
			ReceiverID: user.ID,
			IsRead:     true,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"receiver_id":   counter.ReceiverID,
		"message_count": counter.UnreadCount,
		"is_read":       counter.IsRead,
	})
}

// ResetNotifications handles POST /api/notifications/read
func (h *Handler) ResetNotifications(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, errors.Auth("not authenticated"))
		return
	}

	if err := h.dispatcher.ResetNotifications(c.Request.Context(), user.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "read",
		"timestamp": time.Now().UTC(),
	})
}

// GetProfile handles GET /api/users/:userID
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.directory.GetProfile(c.Request.Context(), c.Param("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// respondError maps any error to the taxonomy's HTTP shape
func respondError(c *gin.Context, err error) {
	apiErr, ok := errors.AsAPIError(err)
	if !ok {
		apiErr = errors.Internal("internal error")
	}

	body := gin.H{
		"error":   apiErr.Code,
		"message": apiErr.Message,
	}
	if apiErr.Field != "" {
		body["field"] = apiErr.Field
	}

	c.JSON(apiErr.Status, body)
}
