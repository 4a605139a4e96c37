// Package store implements the durable system of record for direct messages.
package store

import (
	"context"
	"strings"

	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/models"
	"gorm.io/gorm"
)

// DefaultPageSize bounds a single ListConversation page
const DefaultPageSize = 100

// MessageStore handles all database operations for messages
type MessageStore interface {
	// Append persists a new message in the pending state. This is the
	// durability point of a send: once Append returns, the message survives a
	// crash of the gateway process.
	Append(ctx context.Context, senderID, receiverID, content string) (*models.Message, error)

	// ListConversation returns messages between two users ordered by seq
	// ascending (creation order with insertion-order tie-break). sinceSeq is
	// an exclusive cursor; pass 0 to start from the beginning. limit <= 0
	// falls back to DefaultPageSize.
	ListConversation(ctx context.Context, userA, userB string, sinceSeq int64, limit int) ([]models.Message, error)

	// MarkDelivered transitions a message from pending to delivered. Messages
	// already delivered or read are left untouched.
	MarkDelivered(ctx context.Context, messageID string) error

	// MarkRead sets every listed message owned by receiverID to read,
	// all-or-nothing: if any id is unknown or owned by a different receiver
	// the whole batch fails with a NOT_FOUND error. Re-reading already-read
	// ids is a no-op, so the call is idempotent.
	MarkRead(ctx context.Context, receiverID string, messageIDs []string) error
}

// messageStore implements MessageStore on GORM
type messageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a message store backed by db
func NewMessageStore(db *gorm.DB) MessageStore {
	return &messageStore{db: db}
}

func (s *messageStore) Append(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	if senderID == "" {
		return nil, errors.Validation("sender_id", "sender is required")
	}
	if receiverID == "" {
		return nil, errors.Validation("receiver_id", "receiver is required")
	}
	if senderID == receiverID {
		return nil, errors.Validation("receiver_id", "cannot send a message to yourself")
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.Validation("content", "message content is required")
	}

	msg := &models.Message{
		SenderID:      senderID,
		ReceiverID:    receiverID,
		Content:       content,
		DeliveryState: models.DeliveryPending,
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, errors.Storage("message append", err)
	}

	return msg, nil
}

func (s *messageStore) ListConversation(ctx context.Context, userA, userB string, sinceSeq int64, limit int) ([]models.Message, error) {
	if userA == "" || userB == "" {
		return nil, errors.Validation("user_id", "both conversation participants are required")
	}
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}

	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)) AND seq > ?",
			userA, userB, userB, userA, sinceSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, errors.Storage("conversation list", err)
	}

	return messages, nil
}

func (s *messageStore) MarkDelivered(ctx context.Context, messageID string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND delivery_state = ?", messageID, models.DeliveryPending).
		Update("delivery_state", models.DeliveryDelivered).Error
	if err != nil {
		return errors.Storage("delivery update", err)
	}
	return nil
}

func (s *messageStore) MarkRead(ctx context.Context, receiverID string, messageIDs []string) error {
	if receiverID == "" {
		return errors.Validation("receiver_id", "receiver is required")
	}
	if len(messageIDs) == 0 {
		return errors.Validation("message_ids", "at least one message id is required")
	}

	ids := dedupe(messageIDs)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Message{}).
			Where("id IN ? AND receiver_id = ?", ids, receiverID).
			Count(&count).Error; err != nil {
			return errors.Storage("read batch lookup", err)
		}
		if count != int64(len(ids)) {
			return errors.NotFound("message")
		}

		// Already-read rows are excluded so the transition stays monotonic
		if err := tx.Model(&models.Message{}).
			Where("id IN ? AND receiver_id = ? AND delivery_state <> ?",
				ids, receiverID, models.DeliveryRead).
			Update("delivery_state", models.DeliveryRead).Error; err != nil {
			return errors.Storage("read update", err)
		}
		return nil
	})

	return err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
