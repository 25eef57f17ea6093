package refund

import (
	"context"
	"fmt"
	"strings"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/idgen"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/sirupsen/logrus"
)

type RefundUseCase interface {
	RequestRefund(ctx context.Context, id domain.Identity, paymentID string, input RequestInput) (domain.RefundRequest, error)
}

type RequestInput struct {
	AmountCents *int64 `json:"amount_cents,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Service accepts refund requests from the API and queues them for the worker.
type Service struct {
	payments repository.PaymentRepository
	producer Producer
	ids      idgen.Generator
	topics   config.MessagingConfig
	log      logrus.FieldLogger
}

func NewService(payments repository.PaymentRepository, producer Producer, topics config.MessagingConfig, logger logrus.FieldLogger) *Service {
	return &Service{
		payments: payments,
		producer: producer,
		ids:      idgen.UUID{},
		topics:   topics,
		log:      logger,
	}
}

func (s *Service) RequestRefund(ctx context.Context, id domain.Identity, paymentID string, input RequestInput) (domain.RefundRequest, error) {
	if strings.TrimSpace(paymentID) == "" {
		return domain.RefundRequest{}, fmt.Errorf("%w: payment_id is required", domain.ErrValidation)
	}
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return domain.RefundRequest{}, err
	}
	if payment.UserID != id.UserID {
		return domain.RefundRequest{}, fmt.Errorf("%w: payment %s belongs to another user", domain.ErrForbidden, paymentID)
	}
	if !payment.Status.Refundable() {
		return domain.RefundRequest{}, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, paymentID, payment.Status)
	}
	if input.AmountCents != nil {
		if *input.AmountCents <= 0 {
			return domain.RefundRequest{}, fmt.Errorf("%w: amount_cents must be positive", domain.ErrValidation)
		}
		if *input.AmountCents > payment.RemainingCents() {
			return domain.RefundRequest{}, fmt.Errorf("%w: amount_cents exceeds refundable %d", domain.ErrValidation, payment.RemainingCents())
		}
	}

	req := domain.RefundRequest{
		RequestID:   s.ids.NewID(),
		PaymentID:   paymentID,
		AmountCents: input.AmountCents,
		Reason:      input.Reason,
	}
	if err := s.producer.Publish(ctx, s.topics.RefundRequestTopic, paymentID, req); err != nil {
		return domain.RefundRequest{}, fmt.Errorf("%w: enqueue refund request: %v", domain.ErrTransientDependency, err)
	}
	s.log.WithFields(logrus.Fields{"payment_id": paymentID, "request_id": req.RequestID}).Info("refund requested")
	return req, nil
}

var _ RefundUseCase = (*Service)(nil)
