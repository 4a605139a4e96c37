package notify

import (
	"context"
	"time"

	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormAggregator implements Aggregator on the relational store. The increment
// is a single INSERT ... ON CONFLICT DO UPDATE, so concurrent increments from
// any number of processes serialize inside the database.
type gormAggregator struct {
	db *gorm.DB
}

// NewGormAggregator creates a database-backed aggregator
func NewGormAggregator(db *gorm.DB) Aggregator {
	return &gormAggregator{db: db}
}

func (a *gormAggregator) Increment(ctx context.Context, receiverID string) (*models.NotificationCounter, error) {
	if receiverID == "" {
		return nil, errors.Validation("receiver_id", "receiver is required")
	}

	now := time.Now().UTC()
	counter := models.NotificationCounter{
		ReceiverID:    receiverID,
		UnreadCount:   1,
		IsRead:        false,
		LastUpdatedAt: now,
	}

	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "receiver_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"unread_count":    gorm.Expr("notification_counters.unread_count + 1"),
			"is_read":         false,
			"last_updated_at": now,
		}),
	}).Create(&counter).Error
	if err != nil {
		return nil, errors.Storage("counter increment", err)
	}

	return a.Get(ctx, receiverID)
}

func (a *gormAggregator) ResetForUser(ctx context.Context, receiverID string) error {
	if receiverID == "" {
		return errors.Validation("receiver_id", "receiver is required")
	}

	err := a.db.WithContext(ctx).
		Model(&models.NotificationCounter{}).
		Where("receiver_id = ?", receiverID).
		Updates(map[string]interface{}{
			"unread_count":    0,
			"is_read":         true,
			"last_updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return errors.Storage("counter reset", err)
	}
	return nil
}

func (a *gormAggregator) Get(ctx context.Context, receiverID string) (*models.NotificationCounter, error) {
	var counter models.NotificationCounter
	err := a.db.WithContext(ctx).
		Where("receiver_id = ?", receiverID).
		First(&counter).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errors.Storage("counter lookup", err)
	}
	return &counter, nil
}
