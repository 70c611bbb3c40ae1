package models

import "time"

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationPromo  NotificationType = "promo"
	NotificationOrder  NotificationType = "order"
	NotificationSystem NotificationType = "system"
	NotificationCustom NotificationType = "custom"
)

// Notification is a message stored for a user and pushed to their devices.
type Notification struct {
	ID        string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string           `json:"user_id" gorm:"type:varchar(64);index;not null"`
	Title     string           `json:"title" gorm:"type:varchar(200);not null"`
	Message   string           `json:"message" gorm:"type:text"`
	Type      NotificationType `json:"type" gorm:"type:varchar(20);not null"`
	URL       string           `json:"url,omitempty" gorm:"type:varchar(500)"`
	IsRead    bool             `json:"is_read" gorm:"not null"`
	CreatedAt time.Time        `json:"created_at"`
	SentAt    *time.Time       `json:"sent_at,omitempty"`
}

// PushMessage is the payload handed to push transports.
type PushMessage struct {
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	URL            string           `json:"url,omitempty"`
	Type           NotificationType `json:"type"`
}

// Push builds the push payload for the notification.
func (n *Notification) Push() PushMessage {
	return PushMessage{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Title:          n.Title,
		Body:           n.Message,
		URL:            n.URL,
		Type:           n.Type,
	}
}

// CartAddRequest is the request body for a cart-add notification.
type CartAddRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	ProductName string `json:"product_name" validate:"omitempty,max=200"`
}
