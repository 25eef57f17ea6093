package refund

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

// Result describes the refund as recorded. Booking is set when the refund cancelled it.
type Result struct {
	Refund  domain.Refund
	Payment domain.Payment
	Booking *domain.Booking
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

var tracer = otel.Tracer("roombooking/refund")

// Handle is the delivery.Handler for the refund request topic.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var req domain.RefundRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return delivery.Permanent(fmt.Errorf("%w: decode refund request: %v", domain.ErrValidation, err))
	}
	_, err := w.ProcessRefund(ctx, req)
	if err == nil {
		return nil
	}
	for _, final := range []error{domain.ErrValidation, domain.ErrNotFound, domain.ErrInvalidState, domain.ErrForbidden} {
		if errors.Is(err, final) {
			return delivery.Permanent(err)
		}
	}
	return err
}

func validateRequest(req domain.RefundRequest) error {
	if req.RequestID == "" || req.PaymentID == "" {
		return fmt.Errorf("%w: request_id and payment_id are required", domain.ErrValidation)
	}
	if req.AmountCents != nil && *req.AmountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	return nil
}

// ProcessRefund refunds a settled payment once per request id. Without an amount the whole
// remaining balance is refunded.
func (w *Worker) ProcessRefund(ctx context.Context, req domain.RefundRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "refund.Process")
	defer span.End()
	span.SetAttributes(attribute.String("payment_id", req.PaymentID), attribute.String("request_id", req.RequestID))

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	entry := w.log.WithFields(logrus.Fields{"payment_id": req.PaymentID, "request_id": req.RequestID})

	lockCtx, cancel := context.WithTimeout(ctx, w.locking.LockWait)
	unlock, err := w.locker.Lock(lockCtx, "payment:"+req.PaymentID, w.locking.LockTTL)
	cancel()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			entry.WithError(err).Warn("payment lock release failed")
		}
	}()

	payment, err := w.payments.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	if done, err := w.payments.GetRefundByRequestID(ctx, req.RequestID); err == nil {
		entry.Info("refund request already processed")
		result := &Result{Refund: *done, Payment: *payment}
		// отмена брони могла не дойти до конца в прошлый раз
		if req.CancelBooking && payment.Status == domain.PaymentStatusRefunded {
			result.Booking, err = w.cancelBooking(ctx, payment)
			if err != nil {
				return nil, err
			}
		}
		return result, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if !payment.Status.Refundable() {
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, payment.ID, payment.Status)
	}

	amount := payment.RemainingCents()
	if req.AmountCents != nil {
		amount = *req.AmountCents
	}
	if amount > payment.RemainingCents() {
		return nil, fmt.Errorf("%w: refund %d exceeds refundable %d", domain.ErrValidation, amount, payment.RemainingCents())
	}

	refundCtx, cancel := context.WithTimeout(ctx, w.cfg.ChargeTimeout)
	res, err := w.gateway.Refund(refundCtx, payment.GatewayRef, amount, req.Reason)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: refund payment %s: %v", domain.ErrTransientDependency, payment.ID, err)
	}

	status := domain.PaymentStatusPartiallyRefunded
	if payment.RefundedCents+amount == payment.AmountCents {
		status = domain.PaymentStatusRefunded
	}
	refund := &domain.Refund{
		ID:          w.ids.NewID(),
		PaymentID:   payment.ID,
		RequestID:   req.RequestID,
		AmountCents: amount,
		Reason:      req.Reason,
		GatewayRef:  res.RefundRef,
	}
	if err := w.payments.ApplyRefund(ctx, payment, refund, status); err != nil {
		// шлюз деньги вернул, повторять нельзя
		entry.WithError(err).WithField("refund_ref", res.RefundRef).Error("refund issued but not recorded, manual review required")
		return nil, delivery.Permanent(err)
	}
	if err := w.bookings.UpdatePaymentStatus(ctx, payment.BookingID, status); err != nil {
		entry.WithError(err).Warn("booking payment status not updated")
	}
	entry.WithFields(logrus.Fields{"amount_cents": amount, "status": status}).Info("refund recorded")

	result := &Result{Refund: *refund, Payment: *payment}
	if req.CancelBooking && status == domain.PaymentStatusRefunded {
		result.Booking, err = w.cancelBooking(ctx, payment)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// cancelBooking finishes a user cancellation once the money is back. A booking that is
// already cancelled is left alone.
func (w *Worker) cancelBooking(ctx context.Context, payment *domain.Payment) (*domain.Booking, error) {
	now := w.now()
	updated, err := w.bookings.UpdateStatusConditional(ctx, payment.BookingID,
		domain.BookingStatusConfirmed, domain.BookingStatusCancelled, domain.BookingUpdate{
			PaymentStatus: domain.PaymentStatusRefunded,
			CancelledAt:   &now,
		})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return w.bookings.GetByID(ctx, payment.BookingID)
		}
		return nil, err
	}

	event := domain.LifecycleEvent{
		Type:        domain.EventBookingCancelled,
		BookingID:   updated.ID,
		UserID:      updated.UserID,
		PaymentID:   payment.ID,
		AmountCents: payment.RefundedCents,
		Currency:    payment.Currency,
		OccurredAt:  now.UTC(),
	}
	if err := w.producer.Publish(ctx, w.topics.BookingEventsTopic, updated.ID, event); err != nil {
		w.log.WithError(err).WithField("booking_id", updated.ID).Warn("lifecycle event not published")
	}
	return updated, nil
}
