package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/meethub/backend/internal/cache"
	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/models"
)

// hashCommands is the slice of the cache client the aggregator needs
type hashCommands interface {
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
	HSet(ctx context.Context, key string, values ...interface{}) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
}

// redisAggregator implements Aggregator on Redis hashes. HINCRBY gives the
// atomic increment-or-create, which makes the counter safe when several
// gateway processes share one Redis instance.
type redisAggregator struct {
	rc hashCommands
}

// NewRedisAggregator creates a Redis-backed aggregator
func NewRedisAggregator(rc *cache.RedisClient) Aggregator {
	return &redisAggregator{rc: rc}
}

func counterKey(receiverID string) string {
	return fmt.Sprintf("notify:counter:%s", receiverID)
}

func (a *redisAggregator) Increment(ctx context.Context, receiverID string) (*models.NotificationCounter, error) {
	if receiverID == "" {
		return nil, errors.Validation("receiver_id", "receiver is required")
	}

	key := counterKey(receiverID)
	now := time.Now().UTC()

	count, err := a.rc.HIncrBy(ctx, key, "unread_count", 1)
	if err != nil {
		return nil, errors.Storage("counter increment", err)
	}

	// The flag update rides after the atomic increment; losing it on a crash
	// leaves the count correct and only the read flag stale.
	if err := a.rc.HSet(ctx, key,
		"is_read", 0,
		"last_updated_at", now.Format(time.RFC3339Nano),
	); err != nil {
		return nil, errors.Storage("counter update", err)
	}

	return &models.NotificationCounter{
		ReceiverID:    receiverID,
		UnreadCount:   count,
		IsRead:        false,
		LastUpdatedAt: now,
	}, nil
}

func (a *redisAggregator) ResetForUser(ctx context.Context, receiverID string) error {
	if receiverID == "" {
		return errors.Validation("receiver_id", "receiver is required")
	}

	key := counterKey(receiverID)
	exists, err := a.rc.Exists(ctx, key)
	if err != nil {
		return errors.Storage("counter lookup", err)
	}
	if exists == 0 {
		return nil
	}

	if err := a.rc.HSet(ctx, key,
		"unread_count", 0,
		"is_read", 1,
		"last_updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return errors.Storage("counter reset", err)
	}
	return nil
}

func (a *redisAggregator) Get(ctx context.Context, receiverID string) (*models.NotificationCounter, error) {
	fields, err := a.rc.HGetAll(ctx, counterKey(receiverID))
	if err != nil {
		return nil, errors.Storage("counter lookup", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	counter := &models.NotificationCounter{ReceiverID: receiverID}
	if v, ok := fields["unread_count"]; ok {
		counter.UnreadCount, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields["is_read"]; ok {
		counter.IsRead = v == "1"
	}
	if v, ok := fields["last_updated_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			counter.LastUpdatedAt = t
		}
	}
	return counter, nil
}
