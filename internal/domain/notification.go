package domain

import "time"

type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

type NotificationRecord struct {
	ID        string
	Type      EventType
	UserID    string
	Email     string
	BookingID string
	Status    NotificationStatus
	Error     string
	MessageID string
	SentAt    time.Time
}
