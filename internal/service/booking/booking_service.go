package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/idgen"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/Domenick1991/roombooking/internal/service/pricing"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, id domain.Identity, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id domain.Identity, bookingID string) (*domain.Booking, error)
	ListBookings(ctx context.Context, id domain.Identity) ([]domain.Booking, error)
	CancelBooking(ctx context.Context, id domain.Identity, bookingID string) (*domain.Booking, error)
	ExpirePendingBookings(ctx context.Context) ([]domain.Booking, error)
	SendReminders(ctx context.Context) (int, error)
}

type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, roomID string, start, end time.Time) (bool, error)
}

type Pricer interface {
	Quote(ctx context.Context, room domain.Room, start, end time.Time) pricing.Quote
}

// Locker is implemented by the Redis cache and by lock.Local.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type BookingService struct {
	bookings     repository.BookingRepository
	rooms        repository.RoomRepository
	availability AvailabilityChecker
	pricer       Pricer
	locker       Locker
	producer     Producer
	cfg          config.BookingConfig
	topics       config.MessagingConfig
	log          logrus.FieldLogger
	ids          idgen.Generator
	now          func() time.Time
}

type CreateBookingInput struct {
	RoomID        string    `json:"room_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	PaymentMethod string    `json:"payment_method"`
}

type BookingServiceOption func(*BookingService)

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func WithIDGenerator(g idgen.Generator) BookingServiceOption {
	return func(s *BookingService) {
		s.ids = g
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	rooms repository.RoomRepository,
	availability AvailabilityChecker,
	pricer Pricer,
	locker Locker,
	producer Producer,
	cfg config.BookingConfig,
	topics config.MessagingConfig,
	logger logrus.FieldLogger,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:     bookings,
		rooms:        rooms,
		availability: availability,
		pricer:       pricer,
		locker:       locker,
		producer:     producer,
		cfg:          cfg,
		topics:       topics,
		log:          logger,
		ids:          idgen.UUID{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

var tracer = otel.Tracer("roombooking/booking")

func validate(id domain.Identity, in CreateBookingInput, now time.Time) error {
	var missing []string
	if id.UserID == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(in.RoomID) == "" {
		missing = append(missing, "room_id")
	}
	if in.StartTime.IsZero() {
		missing = append(missing, "start_time")
	}
	if in.EndTime.IsZero() {
		missing = append(missing, "end_time")
	}
	if strings.TrimSpace(in.PaymentMethod) == "" {
		missing = append(missing, "payment_method")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if !in.StartTime.Before(in.EndTime) {
		return fmt.Errorf("%w: start_time must be before end_time", domain.ErrValidation)
	}
	if in.StartTime.Before(now) {
		return fmt.Errorf("%w: start_time is in the past", domain.ErrValidation)
	}
	return nil
}

// CreateBooking writes a PENDING booking and hands it to the payment worker. The slot check
// and the insert run under a per-room lock; the ledger rejects overlaps on its own as well.
func (s *BookingService) CreateBooking(ctx context.Context, id domain.Identity, input CreateBookingInput) (_ *domain.Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.Create")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validate(id, input, s.now()); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("room_id", input.RoomID))

	room, err := s.rooms.GetByID(ctx, input.RoomID)
	if err != nil {
		return nil, err
	}

	booking, err := s.reserve(ctx, id, room, input)
	if err != nil {
		return nil, err
	}
	entry := s.log.WithFields(logrus.Fields{"booking_id": booking.ID, "room_id": room.ID})

	req := domain.PaymentRequest{
		BookingID:     booking.ID,
		UserID:        booking.UserID,
		UserEmail:     booking.UserEmail,
		AmountCents:   booking.TotalCents,
		Currency:      booking.Currency,
		PaymentMethod: input.PaymentMethod,
	}
	if err := s.producer.Publish(ctx, s.topics.PaymentRequestTopic, booking.ID, req); err != nil {
		entry.WithError(err).Error("payment request not enqueued, releasing slot")
		s.release(ctx, booking)
		return nil, fmt.Errorf("%w: enqueue payment request: %v", domain.ErrTransientDependency, err)
	}

	entry.WithField("total_cents", booking.TotalCents).Info("booking pending payment")
	return booking, nil
}

func (s *BookingService) reserve(ctx context.Context, id domain.Identity, room *domain.Room, input CreateBookingInput) (*domain.Booking, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	unlock, err := s.locker.Lock(lockCtx, "room:"+room.ID, s.cfg.LockTTL)
	cancel()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.WithError(err).WithField("room_id", room.ID).Warn("room lock release failed")
		}
	}()

	free, err := s.availability.IsAvailable(ctx, room.ID, input.StartTime, input.EndTime)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, domain.ErrSlotTaken
	}

	quote := s.pricer.Quote(ctx, *room, input.StartTime, input.EndTime)

	currency := room.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	booking := &domain.Booking{
		ID:         s.ids.NewID(),
		UserID:     id.UserID,
		UserEmail:  id.Email,
		RoomID:     room.ID,
		RoomName:   room.Name,
		StartTime:  input.StartTime.UTC(),
		EndTime:    input.EndTime.UTC(),
		TotalCents: quote.TotalCents,
		Currency:   currency,
	}
	if err := s.bookings.CreatePending(ctx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

// release cancels a booking whose payment request never made it to the queue.
func (s *BookingService) release(ctx context.Context, booking *domain.Booking) {
	now := s.now()
	if _, err := s.bookings.UpdateStatusConditional(context.WithoutCancel(ctx), booking.ID,
		domain.BookingStatusPending, domain.BookingStatusCancelled, domain.BookingUpdate{CancelledAt: &now}); err != nil {
		s.log.WithError(err).WithField("booking_id", booking.ID).Error("release booking failed, expiry sweep will pick it up")
	}
}

func (s *BookingService) GetBooking(ctx context.Context, id domain.Identity, bookingID string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != id.UserID {
		return nil, fmt.Errorf("%w: booking %s belongs to another user", domain.ErrForbidden, bookingID)
	}
	return b, nil
}

func (s *BookingService) ListBookings(ctx context.Context, id domain.Identity) ([]domain.Booking, error) {
	if id.Anonymous() {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	return s.bookings.ListByUser(ctx, id.UserID)
}

// CancelBooking cancels a PENDING booking right away. A paid booking is handed to the refund
// worker and is returned still CONFIRMED; it turns CANCELLED once the refund settles.
func (s *BookingService) CancelBooking(ctx context.Context, id domain.Identity, bookingID string) (*domain.Booking, error) {
	current, err := s.GetBooking(ctx, id, bookingID)
	if err != nil {
		return nil, err
	}
	entry := s.log.WithField("booking_id", bookingID)

	switch current.Status {
	case domain.BookingStatusCancelled:
		return current, nil

	case domain.BookingStatusPending:
		now := s.now()
		updated, err := s.bookings.UpdateStatusConditional(ctx, bookingID,
			domain.BookingStatusPending, domain.BookingStatusCancelled, domain.BookingUpdate{CancelledAt: &now})
		if err != nil {
			return nil, err
		}
		s.publishEvent(ctx, domain.EventBookingCancelled, updated)
		entry.Info("pending booking cancelled")
		return updated, nil

	case domain.BookingStatusConfirmed:
		if current.PaymentID == nil || !current.PaymentStatus.Refundable() {
			return nil, fmt.Errorf("%w: booking %s has no refundable payment", domain.ErrInvalidState, bookingID)
		}
		req := domain.RefundRequest{
			RequestID:     "cancel-" + bookingID,
			PaymentID:     *current.PaymentID,
			Reason:        "booking cancelled by user",
			CancelBooking: true,
		}
		if err := s.producer.Publish(ctx, s.topics.RefundRequestTopic, *current.PaymentID, req); err != nil {
			return nil, fmt.Errorf("%w: enqueue refund request: %v", domain.ErrTransientDependency, err)
		}
		entry.WithField("payment_id", *current.PaymentID).Info("refund requested for cancellation")
		return current, nil
	}

	return nil, fmt.Errorf("%w: unknown status %s", domain.ErrInvalidState, current.Status)
}

// ExpirePendingBookings cancels holds whose payment never succeeded within HoldTTL.
func (s *BookingService) ExpirePendingBookings(ctx context.Context) ([]domain.Booking, error) {
	now := s.now()
	stale, err := s.bookings.ListExpiredPending(ctx, now.Add(-s.cfg.HoldTTL))
	if err != nil {
		return nil, err
	}

	expired := make([]domain.Booking, 0, len(stale))
	for _, b := range stale {
		updated, err := s.bookings.UpdateStatusConditional(ctx, b.ID,
			domain.BookingStatusPending, domain.BookingStatusCancelled, domain.BookingUpdate{CancelledAt: &now})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				// оплата успела раньше
				continue
			}
			return expired, err
		}
		s.publishEvent(ctx, domain.EventBookingCancelled, updated)
		expired = append(expired, *updated)
	}
	if len(expired) > 0 {
		s.log.WithField("count", len(expired)).Info("expired pending bookings")
	}
	return expired, nil
}

// SendReminders publishes one reminder per confirmed booking starting within ReminderWindow.
func (s *BookingService) SendReminders(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.bookings.ListReminderDue(ctx, now, now.Add(s.cfg.ReminderWindow))
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range due {
		claimed, err := s.bookings.MarkReminderSent(ctx, due[i].ID)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}
		s.publishEvent(ctx, domain.EventBookingReminder, &due[i])
		sent++
	}
	return sent, nil
}

// publishEvent is best effort: the booking state is already committed.
func (s *BookingService) publishEvent(ctx context.Context, t domain.EventType, b *domain.Booking) {
	event := domain.LifecycleEvent{
		Type:        t,
		BookingID:   b.ID,
		UserID:      b.UserID,
		AmountCents: b.TotalCents,
		Currency:    b.Currency,
		OccurredAt:  s.now().UTC(),
	}
	if b.PaymentID != nil {
		event.PaymentID = *b.PaymentID
	}
	if err := s.producer.Publish(ctx, s.topics.BookingEventsTopic, b.ID, event); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"booking_id": b.ID, "type": t}).Warn("lifecycle event not published")
	}
}

var _ BookingUseCase = (*BookingService)(nil)
