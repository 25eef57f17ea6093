// Package repotest has in-memory repositories for service tests that need real state
// across several calls rather than scripted mocks.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/repository"
)

// Store keeps bookings, payments and refunds behind one mutex so the
// compare-and-set semantics of the Postgres repositories hold.
type Store struct {
	mu       sync.Mutex
	bookings map[string]domain.Booking
	payments map[string]domain.Payment
	refunds  map[string]domain.Refund
	Now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		bookings: make(map[string]domain.Booking),
		payments: make(map[string]domain.Payment),
		refunds:  make(map[string]domain.Refund),
		Now:      time.Now,
	}
}

func (s *Store) Bookings() repository.BookingRepository { return bookingRepo{s} }
func (s *Store) Payments() repository.PaymentRepository { return paymentRepo{s} }

// PutBooking stores b as is, status included.
func (s *Store) PutBooking(b domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

func (s *Store) PutPayment(p domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
}

func (s *Store) Booking(id string) domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id]
}

// PaymentsFor lists every payment row of the booking, failed attempts included.
func (s *Store) PaymentsFor(bookingID string) []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Refunds() []domain.Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Refund, 0, len(s.refunds))
	for _, r := range s.refunds {
		out = append(out, r)
	}
	return out
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) CreatePending(_ context.Context, b *domain.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.bookings {
		if existing.RoomID == b.RoomID && existing.Status.Active() && existing.Overlaps(b.StartTime, b.EndTime) {
			return domain.ErrSlotTaken
		}
	}
	b.Status = domain.BookingStatusPending
	b.CreatedAt = r.s.Now()
	b.UpdatedAt = b.CreatedAt
	r.s.bookings[b.ID] = *b
	return nil
}

func (r bookingRepo) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &b, nil
}

func (r bookingRepo) ListByUser(_ context.Context, userID string) ([]domain.Booking, error) {
	return r.filter(func(b domain.Booking) bool { return b.UserID == userID }), nil
}

func (r bookingRepo) ListByRoomAndRange(_ context.Context, roomID string, start, end time.Time, exclude []domain.BookingStatus) ([]domain.Booking, error) {
	return r.filter(func(b domain.Booking) bool {
		for _, st := range exclude {
			if b.Status == st {
				return false
			}
		}
		return b.RoomID == roomID && b.Overlaps(start, end)
	}), nil
}

func (r bookingRepo) UpdateStatusConditional(_ context.Context, id string, expected, next domain.BookingStatus, upd domain.BookingUpdate) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !expected.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s is not allowed", domain.ErrInvalidState, expected, next)
	}
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	if b.Status != expected {
		return nil, fmt.Errorf("%w: booking %s is %s, expected %s", domain.ErrInvalidState, id, b.Status, expected)
	}
	b.Status = next
	if upd.PaymentID != nil {
		b.PaymentID = upd.PaymentID
	}
	if upd.PaymentStatus != domain.PaymentStatusNone {
		b.PaymentStatus = upd.PaymentStatus
	}
	if upd.ConfirmedAt != nil {
		b.ConfirmedAt = upd.ConfirmedAt
	}
	if upd.CancelledAt != nil {
		b.CancelledAt = upd.CancelledAt
	}
	b.UpdatedAt = r.s.Now()
	r.s.bookings[id] = b
	return &b, nil
}

func (r bookingRepo) UpdatePaymentStatus(_ context.Context, id string, status domain.PaymentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	b.PaymentStatus = status
	r.s.bookings[id] = b
	return nil
}

func (r bookingRepo) ListExpiredPending(_ context.Context, createdBefore time.Time) ([]domain.Booking, error) {
	return r.filter(func(b domain.Booking) bool {
		return b.Status == domain.BookingStatusPending && !b.CreatedAt.After(createdBefore)
	}), nil
}

func (r bookingRepo) ListReminderDue(_ context.Context, from, to time.Time) ([]domain.Booking, error) {
	return r.filter(func(b domain.Booking) bool {
		return b.Status == domain.BookingStatusConfirmed && b.ReminderSentAt == nil &&
			!b.StartTime.Before(from) && b.StartTime.Before(to)
	}), nil
}

func (r bookingRepo) MarkReminderSent(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok || b.ReminderSentAt != nil {
		return false, nil
	}
	now := r.s.Now()
	b.ReminderSentAt = &now
	r.s.bookings[id] = b
	return true, nil
}

func (r bookingRepo) filter(keep func(domain.Booking) bool) []domain.Booking {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Booking, 0)
	for _, b := range r.s.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) Create(_ context.Context, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payments[p.ID]; ok {
		return fmt.Errorf("%w: payments_pkey", domain.ErrConflict)
	}
	if settled(p.Status) {
		for _, existing := range r.s.payments {
			if existing.BookingID == p.BookingID && settled(existing.Status) {
				return fmt.Errorf("%w: payments_one_settled_per_booking", domain.ErrConflict)
			}
		}
	}
	p.CreatedAt = r.s.Now()
	p.UpdatedAt = p.CreatedAt
	r.s.payments[p.ID] = *p
	return nil
}

func (r paymentRepo) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

func (r paymentRepo) GetSettledByBooking(_ context.Context, bookingID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.BookingID == bookingID && settled(p.Status) {
			return &p, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r paymentRepo) ApplyRefund(_ context.Context, p *domain.Payment, refund *domain.Refund, status domain.PaymentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.payments[p.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.RefundedCents != p.RefundedCents || current.RefundedCents+refund.AmountCents > current.AmountCents {
		return fmt.Errorf("%w: payment %s changed concurrently", domain.ErrConflict, p.ID)
	}
	for _, rf := range r.s.refunds {
		if rf.RequestID == refund.RequestID {
			return fmt.Errorf("%w: refunds_request_id_key", domain.ErrConflict)
		}
	}
	current.RefundedCents += refund.AmountCents
	current.Status = status
	current.UpdatedAt = r.s.Now()
	r.s.payments[p.ID] = current

	refund.CreatedAt = r.s.Now()
	r.s.refunds[refund.ID] = *refund

	p.RefundedCents = current.RefundedCents
	p.Status = status
	return nil
}

func (r paymentRepo) GetRefundByRequestID(_ context.Context, requestID string) (*domain.Refund, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rf := range r.s.refunds {
		if rf.RequestID == requestID {
			return &rf, nil
		}
	}
	return nil, fmt.Errorf("%w: refund request %s", domain.ErrNotFound, requestID)
}

func settled(s domain.PaymentStatus) bool {
	return s == domain.PaymentStatusSucceeded || s == domain.PaymentStatusPartiallyRefunded || s == domain.PaymentStatusRefunded
}
