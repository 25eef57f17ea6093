package domain

import "time"

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// CanTransition reports whether from -> to is part of the booking lifecycle.
func (s BookingStatus) CanTransition(to BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return to == BookingStatusConfirmed || to == BookingStatusCancelled
	case BookingStatusConfirmed:
		return to == BookingStatusCancelled
	default:
		return false
	}
}

// Active bookings hold their slot.
func (s BookingStatus) Active() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

type Booking struct {
	ID             string
	UserID         string
	UserEmail      string
	RoomID         string
	RoomName       string
	StartTime      time.Time
	EndTime        time.Time
	TotalCents     int64
	Currency       string
	Status         BookingStatus
	PaymentID      *string
	PaymentStatus  PaymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConfirmedAt    *time.Time
	CancelledAt    *time.Time
	ReminderSentAt *time.Time
}

// Date is the calendar day of the slot, used for the weather lookup.
func (b Booking) Date() string {
	return b.StartTime.Format(DateLayout)
}

// Overlaps applies the half-open interval test [start, end).
func (b Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}

// BookingUpdate carries the optional columns written together with a status change.
type BookingUpdate struct {
	PaymentID     *string
	PaymentStatus PaymentStatus
	ConfirmedAt   *time.Time
	CancelledAt   *time.Time
}

const DateLayout = "2006-01-02"
