package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusNone              PaymentStatus = ""
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Refundable statuses are the only ones a refund may be issued against.
func (s PaymentStatus) Refundable() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusPartiallyRefunded
}

type Payment struct {
	ID            string
	BookingID     string
	UserID        string
	AmountCents   int64
	Currency      string
	Status        PaymentStatus
	GatewayRef    string
	RefundedCents int64
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p Payment) RemainingCents() int64 {
	return p.AmountCents - p.RefundedCents
}

type Refund struct {
	ID          string
	PaymentID   string
	RequestID   string
	AmountCents int64
	Reason      string
	GatewayRef  string
	CreatedAt   time.Time
}
