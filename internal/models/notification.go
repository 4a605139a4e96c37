package models

import "time"

// NotificationCounter is the per-receiver unread message counter. One row per
// receiver, created lazily on the first message and never deleted; reads reset
// the count instead.
//
// UnreadCount and IsRead are independently settable: a reset marks the row
// read and zeroes the count, but an increment only flips IsRead back to false.
type NotificationCounter struct {
	ReceiverID    string    `gorm:"primaryKey;type:uuid" json:"receiver_id"`
	UnreadCount   int64     `gorm:"not null;default:0" json:"unread_count"`
	IsRead        bool      `gorm:"not null;default:false" json:"is_read"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}
