// Package notify maintains per-receiver unread message counters.
//
// Increments must be atomic in the backing store itself: multiple gateway
// processes share the store, so an application-level read-modify-write would
// lose updates under concurrent sends to the same receiver.
package notify

import (
	"context"

	"github.com/meethub/backend/internal/models"
)

// Aggregator is the notification counter contract
type Aggregator interface {
	// Increment atomically creates-or-increments the receiver's counter and
	// marks it unread, returning the updated row.
	Increment(ctx context.Context, receiverID string) (*models.NotificationCounter, error)

	// ResetForUser zeroes the counter and marks it read. No-op if the counter
	// was never created.
	ResetForUser(ctx context.Context, receiverID string) error

	// Get returns the receiver's counter, or nil without error if no message
	// was ever counted for them.
	Get(ctx context.Context, receiverID string) (*models.NotificationCounter, error)
}
