// Package dispatch orders the side effects of a message send: durable append
// first, then best-effort real-time fan-out and notification counting.
package dispatch

import (
	"context"

	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/event"
	"github.com/meethub/backend/internal/logger"
	"github.com/meethub/backend/internal/metrics"
	"github.com/meethub/backend/internal/models"
	"github.com/meethub/backend/internal/notify"
	"github.com/meethub/backend/internal/presence"
	"github.com/meethub/backend/internal/store"
	"go.uber.org/zap"
)

// DispatchResult reports what happened to a single send
type DispatchResult struct {
	Message   *models.Message
	Delivered bool
	// Counter is the receiver's unread counter after the increment, nil when
	// the increment failed (the message itself is still persisted).
	Counter *models.NotificationCounter
}

// Dispatcher coordinates the store, the notification aggregator and the
// presence registry. The invariant it protects: nothing is emitted to any
// connection before the message row exists.
type Dispatcher struct {
	store    store.MessageStore
	counters notify.Aggregator
	registry *presence.Registry
}

// NewDispatcher creates a dispatcher over the given collaborators
func NewDispatcher(s store.MessageStore, counters notify.Aggregator, registry *presence.Registry) *Dispatcher {
	return &Dispatcher{
		store:    s,
		counters: counters,
		registry: registry,
	}
}

// Send persists a message and fans it out.
//
// The append is the only fatal step: a storage failure aborts the send and the
// caller sees the error with nothing emitted anywhere. After the append the
// message exists no matter what, and the remaining steps degrade
// independently: a dead receiver connection leaves the message pending for the
// next history fetch, a failed counter increment is logged and skipped.
func (d *Dispatcher) Send(ctx context.Context, senderID, receiverID, content string) (*DispatchResult, error) {
	m := metrics.Get()

	msg, err := d.store.Append(ctx, senderID, receiverID, content)
	if err != nil {
		m.SendFailures.WithLabelValues(string(errors.CodeOf(err))).Inc()
		return nil, err
	}
	m.MessagesPersisted.Inc()

	result := &DispatchResult{Message: msg}

	receiverConns := d.registry.Lookup(receiverID)
	if len(receiverConns) > 0 {
		delivered := false
		for _, c := range receiverConns {
			env := event.New(event.TypeNewMessage, messagePayload(msg))
			if err := c.Send(env); err != nil {
				logger.WarnWithFields("Failed to push message to receiver connection", err,
					zap.String("message_id", msg.ID),
					zap.String("receiver_id", receiverID),
				)
				continue
			}
			delivered = true
		}

		if delivered {
			if err := d.store.MarkDelivered(ctx, msg.ID); err != nil {
				// The receiver already has the payload; the row stays pending
				// and will be re-fetched on the next history load.
				logger.ErrorWithFields("Failed to record delivery", err,
					zap.String("message_id", msg.ID),
				)
			} else {
				msg.DeliveryState = models.DeliveryDelivered
				result.Delivered = true
				m.MessagesDelivered.Inc()
			}
		}
	}
	if !result.Delivered {
		m.MessagesPending.Inc()
	}

	counter, err := d.counters.Increment(ctx, receiverID)
	if err != nil {
		logger.ErrorWithFields("Failed to increment notification counter", err,
			zap.String("receiver_id", receiverID),
			zap.String("message_id", msg.ID),
		)
	} else {
		result.Counter = counter
		for _, c := range receiverConns {
			env := event.New(event.TypeNewNotification, event.NotificationPayload{
				SenderID:     senderID,
				MessageCount: counter.UnreadCount,
				IsRead:       counter.IsRead,
			})
			if err := c.Send(env); err != nil {
				logger.WarnWithFields("Failed to push notification", err,
					zap.String("receiver_id", receiverID),
				)
			}
		}
		m.NotificationsEmitted.Inc()
	}

	for _, c := range d.registry.Lookup(senderID) {
		env := event.New(event.TypeSentConfirmation, messagePayload(msg))
		if err := c.Send(env); err != nil {
			logger.WarnWithFields("Failed to push send confirmation", err,
				zap.String("sender_id", senderID),
				zap.String("message_id", msg.ID),
			)
		}
	}

	return result, nil
}

// MarkRead applies an all-or-nothing read batch for receiverID, resets the
// unread counter and confirms the reset to the receiver's connections. The
// counter reset only happens once the batch committed.
func (d *Dispatcher) MarkRead(ctx context.Context, receiverID string, messageIDs []string) error {
	if err := d.store.MarkRead(ctx, receiverID, messageIDs); err != nil {
		return err
	}
	metrics.Get().MessagesRead.Add(float64(len(messageIDs)))

	if err := d.counters.ResetForUser(ctx, receiverID); err != nil {
		logger.ErrorWithFields("Failed to reset notification counter after read", err,
			zap.String("receiver_id", receiverID),
		)
	}

	d.notifyRead(receiverID)
	return nil
}

// ResetNotifications zeroes the unread counter without touching any message
// rows. This backs the lightweight acknowledgment a client sends when it opens
// its notification tray.
func (d *Dispatcher) ResetNotifications(ctx context.Context, userID string) error {
	if err := d.counters.ResetForUser(ctx, userID); err != nil {
		return err
	}
	d.notifyRead(userID)
	return nil
}

func (d *Dispatcher) notifyRead(userID string) {
	for _, c := range d.registry.Lookup(userID) {
		env := event.New(event.TypeNotificationsRead, event.NotificationsReadPayload{
			UserID: userID,
		})
		if err := c.Send(env); err != nil {
			logger.WarnWithFields("Failed to push read confirmation", err,
				zap.String("user_id", userID),
			)
		}
	}
}

func messagePayload(msg *models.Message) event.MessagePayload {
	return event.MessagePayload{
		MessageID:     msg.ID,
		SenderID:      msg.SenderID,
		ReceiverID:    msg.ReceiverID,
		Content:       msg.Content,
		DeliveryState: string(msg.DeliveryState),
		Timestamp:     msg.CreatedAt.UnixMilli(),
	}
}
