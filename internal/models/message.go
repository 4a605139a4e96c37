package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryState tracks how far a message has progressed toward its receiver.
// Transitions are monotonic: pending -> delivered -> read. A read message is
// immutable.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

// Message is a direct message between two users. Seq is the insertion-order
// primary key and doubles as the conversation cursor; ID is the public
// identifier.
type Message struct {
	Seq           int64         `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID            string        `gorm:"type:uuid;uniqueIndex;not null" json:"id"`
	SenderID      string        `gorm:"type:uuid;not null;index:idx_messages_sender_receiver" json:"sender_id"`
	ReceiverID    string        `gorm:"type:uuid;not null;index:idx_messages_sender_receiver" json:"receiver_id"`
	Content       string        `gorm:"type:text;not null" json:"content"`
	DeliveryState DeliveryState `gorm:"type:varchar(16);not null;default:pending" json:"delivery_state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate hook for GORM
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.DeliveryState == "" {
		m.DeliveryState = DeliveryPending
	}
	return nil
}
