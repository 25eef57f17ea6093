package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/delivery"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/gateway"
	"github.com/Domenick1991/roombooking/internal/idgen"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type Worker struct {
	bookings repository.BookingRepository
	payments repository.PaymentRepository
	gateway  gateway.Gateway
	locker   Locker
	producer Producer
	ids      idgen.Generator
	cfg      config.PaymentConfig
	locking  config.BookingConfig
	topics   config.MessagingConfig
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewWorker(
	bookings repository.BookingRepository,
	payments repository.PaymentRepository,
	gw gateway.Gateway,
	locker Locker,
	producer Producer,
	ids idgen.Generator,
	cfg config.PaymentConfig,
	locking config.BookingConfig,
	topics config.MessagingConfig,
	logger logrus.FieldLogger,
) *Worker {
	return &Worker{
		bookings: bookings,
		payments: payments,
		gateway:  gw,
		locker:   locker,
		producer: producer,
		ids:      ids,
		cfg:      cfg,
		locking:  locking,
		topics:   topics,
		log:      logger,
		now:      time.Now,
	}
}

var tracer = otel.Tracer("roombooking/payment")

// Handle is the delivery.Handler for the payment request topic.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var req domain.PaymentRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return delivery.Permanent(fmt.Errorf("%w: decode payment request: %v", domain.ErrValidation, err))
	}
	return w.ProcessPayment(ctx, req)
}

func validateRequest(req domain.PaymentRequest) error {
	var missing []string
	if req.BookingID == "" {
		missing = append(missing, "booking_id")
	}
	if req.UserID == "" {
		missing = append(missing, "user_id")
	}
	if req.Currency == "" {
		missing = append(missing, "currency")
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		missing = append(missing, "payment_method")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if req.AmountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	return nil
}

// ProcessPayment charges the booking once. A redelivered request finds the settled payment and
// only makes sure the booking is confirmed.
func (w *Worker) ProcessPayment(ctx context.Context, req domain.PaymentRequest) error {
	ctx, span := tracer.Start(ctx, "payment.Process")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", req.BookingID))

	entry := w.log.WithField("booking_id", req.BookingID)

	if err := validateRequest(req); err != nil {
		// не ретраим: пользователь должен создать бронь заново
		entry.WithError(err).Warn("invalid payment request")
		if req.BookingID != "" {
			w.recordFailure(ctx, req, "", err)
		}
		return nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, w.locking.LockWait)
	unlock, err := w.locker.Lock(lockCtx, "booking:"+req.BookingID, w.locking.LockTTL)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			entry.WithError(err).Warn("booking lock release failed")
		}
	}()

	booking, err := w.bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return delivery.Permanent(err)
		}
		return err
	}

	settled, err := w.payments.GetSettledByBooking(ctx, req.BookingID)
	switch {
	case err == nil:
		entry.WithField("payment_id", settled.ID).Info("booking already paid, skipping charge")
		switch {
		case booking.Status == domain.BookingStatusPending:
			return w.confirm(ctx, booking, settled)
		case booking.Status == domain.BookingStatusCancelled && settled.Status == domain.PaymentStatusSucceeded && !holdsPayment(booking, settled):
			// отмена выиграла гонку, а запрос на возврат не ушёл с прошлой попытки
			return w.compensate(ctx, booking, settled)
		}
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	if booking.Status != domain.BookingStatusPending {
		entry.WithField("status", booking.Status).Info("booking no longer pending, not charging")
		return nil
	}

	chargeCtx, cancel := context.WithTimeout(ctx, w.cfg.ChargeTimeout)
	res, err := w.gateway.Charge(chargeCtx, gateway.ChargeRequest{
		IdempotencyKey: req.BookingID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		PaymentMethod:  req.PaymentMethod,
		Metadata:       map[string]string{"booking_id": req.BookingID, "user_id": req.UserID},
	})
	timedOut := err != nil && chargeCtx.Err() != nil
	cancel()
	if err != nil {
		if timedOut {
			// исход неизвестен: повтор с тем же ключом вернёт уже сделанное списание
			entry.WithError(err).Warn("charge outcome unknown, will retry")
		} else {
			entry.WithError(err).Warn("charge failed")
		}
		w.recordFailure(ctx, req, res.GatewayRef, err)
		// отказ тоже повторяем, пока не кончатся попытки доставки
		return fmt.Errorf("%w: charge booking %s: %w", domain.ErrTransientDependency, req.BookingID, err)
	}

	payment := &domain.Payment{
		ID:          w.ids.NewID(),
		BookingID:   req.BookingID,
		UserID:      req.UserID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Status:      domain.PaymentStatusSucceeded,
		GatewayRef:  res.GatewayRef,
	}
	if err := w.payments.Create(ctx, payment); err != nil {
		// деньги списаны, а записи нет: возвращаем сразу через шлюз
		entry.WithError(err).Error("payment not recorded, voiding charge")
		if _, rerr := w.gateway.Refund(context.WithoutCancel(ctx), res.GatewayRef, req.AmountCents, "payment record failed"); rerr != nil {
			entry.WithError(rerr).WithField("gateway_ref", res.GatewayRef).Error("void charge failed, manual review required")
		}
		return fmt.Errorf("%w: record payment: %v", domain.ErrTransientDependency, err)
	}
	entry.WithFields(logrus.Fields{"payment_id": payment.ID, "amount_cents": payment.AmountCents}).Info("payment succeeded")

	return w.confirm(ctx, booking, payment)
}

// confirm moves the booking to CONFIRMED. If a cancellation won the race, the money goes back
// through the refund worker.
func (w *Worker) confirm(ctx context.Context, booking *domain.Booking, payment *domain.Payment) error {
	now := w.now()
	updated, err := w.bookings.UpdateStatusConditional(ctx, booking.ID,
		domain.BookingStatusPending, domain.BookingStatusConfirmed, domain.BookingUpdate{
			PaymentID:     &payment.ID,
			PaymentStatus: payment.Status,
			ConfirmedAt:   &now,
		})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return w.compensate(ctx, booking, payment)
		}
		return err
	}

	w.publish(ctx, domain.EventBookingConfirmed, updated, payment)
	w.publish(ctx, domain.EventPaymentReceipt, updated, payment)
	return nil
}

func holdsPayment(b *domain.Booking, p *domain.Payment) bool {
	return b.PaymentID != nil && *b.PaymentID == p.ID
}

func (w *Worker) compensate(ctx context.Context, booking *domain.Booking, payment *domain.Payment) error {
	req := domain.RefundRequest{
		RequestID: "compensate-" + payment.ID,
		PaymentID: payment.ID,
		Reason:    "booking cancelled before payment settled",
	}
	if err := w.producer.Publish(ctx, w.topics.RefundRequestTopic, payment.ID, req); err != nil {
		return fmt.Errorf("%w: enqueue compensating refund: %v", domain.ErrTransientDependency, err)
	}
	w.log.WithFields(logrus.Fields{"booking_id": booking.ID, "payment_id": payment.ID}).
		Warn("booking cancelled while charging, refund requested")
	return nil
}

func (w *Worker) recordFailure(ctx context.Context, req domain.PaymentRequest, gatewayRef string, cause error) {
	entry := w.log.WithField("booking_id", req.BookingID)
	failed := &domain.Payment{
		ID:          w.ids.NewID(),
		BookingID:   req.BookingID,
		UserID:      req.UserID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Status:      domain.PaymentStatusFailed,
		GatewayRef:  gatewayRef,
		Error:       cause.Error(),
	}
	if err := w.payments.Create(ctx, failed); err != nil {
		entry.WithError(err).Error("failed payment not recorded")
		return
	}
	if err := w.bookings.UpdatePaymentStatus(ctx, req.BookingID, domain.PaymentStatusFailed); err != nil {
		entry.WithError(err).Warn("booking payment status not updated")
	}
}

func (w *Worker) publish(ctx context.Context, t domain.EventType, b *domain.Booking, p *domain.Payment) {
	event := domain.LifecycleEvent{
		Type:        t,
		BookingID:   b.ID,
		UserID:      b.UserID,
		PaymentID:   p.ID,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		OccurredAt:  w.now().UTC(),
	}
	if err := w.producer.Publish(ctx, w.topics.BookingEventsTopic, b.ID, event); err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{"booking_id": b.ID, "type": t}).Warn("lifecycle event not published")
	}
}
