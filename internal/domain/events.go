package domain

import "time"

type EventType string

const (
	EventBookingConfirmed EventType = "booking_confirmed"
	EventBookingCancelled EventType = "booking_cancelled"
	EventBookingReminder  EventType = "booking_reminder"
	EventPaymentReceipt   EventType = "payment_receipt"
)

// PaymentRequest is enqueued by the orchestrator and consumed by the payment worker.
type PaymentRequest struct {
	BookingID     string `json:"booking_id"`
	UserID        string `json:"user_id"`
	UserEmail     string `json:"user_email"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
}

type RefundRequest struct {
	RequestID     string `json:"request_id"`
	PaymentID     string `json:"payment_id"`
	AmountCents   *int64 `json:"amount_cents,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CancelBooking bool   `json:"cancel_booking"`
}

// LifecycleEvent feeds the notification dispatcher.
type LifecycleEvent struct {
	Type        EventType `json:"type"`
	BookingID   string    `json:"booking_id"`
	UserID      string    `json:"user_id"`
	PaymentID   string    `json:"payment_id,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
