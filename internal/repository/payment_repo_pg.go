package repository

import (
	"context"
	"fmt"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	// GetSettledByBooking returns the payment that collected funds for the booking, if any.
	GetSettledByBooking(ctx context.Context, bookingID string) (*domain.Payment, error)
	ApplyRefund(ctx context.Context, payment *domain.Payment, refund *domain.Refund, status domain.PaymentStatus) error
	GetRefundByRequestID(ctx context.Context, requestID string) (*domain.Refund, error)
}

type PGPaymentRepository struct {
	db DB
}

func NewPaymentRepository(db DB) PaymentRepository {
	return &PGPaymentRepository{db: db}
}

var paymentColumns = []string{
	"id", "booking_id", "user_id", "amount_cents", "currency", "status",
	"gateway_ref", "refunded_cents", "error", "created_at", "updated_at",
}

var settledStatuses = []string{
	string(domain.PaymentStatusSucceeded),
	string(domain.PaymentStatusPartiallyRefunded),
	string(domain.PaymentStatusRefunded),
}

func (r *PGPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	sql, args, err := psql.Insert("payments").
		Columns("id", "booking_id", "user_id", "amount_cents", "currency", "status", "gateway_ref", "refunded_cents", "error").
		Values(p.ID, p.BookingID, p.UserID, p.AmountCents, p.Currency, string(p.Status), p.GatewayRef, p.RefundedCents, p.Error).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create payment query failed: %w", err)
	}
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return mapError(err, domain.ErrPaymentNotFound)
	}
	return nil
}

func (r *PGPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	sql, args, err := psql.Select(paymentColumns...).From("payments").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get payment query failed: %w", err)
	}
	p, err := scanPayment(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, mapError(err, domain.ErrPaymentNotFound)
	}
	return p, nil
}

func (r *PGPaymentRepository) GetSettledByBooking(ctx context.Context, bookingID string) (*domain.Payment, error) {
	sql, args, err := psql.Select(paymentColumns...).
		From("payments").
		Where(squirrel.Eq{"booking_id": bookingID, "status": settledStatuses}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get settled payment query failed: %w", err)
	}
	p, err := scanPayment(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, mapError(err, domain.ErrPaymentNotFound)
	}
	return p, nil
}

// ApplyRefund records the refund and bumps refunded_cents in one transaction.
// The update only applies if refunded_cents still equals payment.RefundedCents,
// and never lets the cumulative refund exceed the original amount.
func (r *PGPaymentRepository) ApplyRefund(ctx context.Context, p *domain.Payment, refund *domain.Refund, status domain.PaymentStatus) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var refunded int64
	err = tx.QueryRow(ctx, `UPDATE payments
		SET refunded_cents = refunded_cents + $1, status = $2, updated_at = now()
		WHERE id = $3 AND refunded_cents = $4 AND refunded_cents + $1 <= amount_cents
		RETURNING refunded_cents`,
		refund.AmountCents, string(status), p.ID, p.RefundedCents).Scan(&refunded)
	if err != nil {
		return mapError(err, fmt.Errorf("%w: payment %s changed concurrently", domain.ErrConflict, p.ID))
	}

	sql, args, err := psql.Insert("refunds").
		Columns("id", "payment_id", "request_id", "amount_cents", "reason", "gateway_ref").
		Values(refund.ID, refund.PaymentID, refund.RequestID, refund.AmountCents, refund.Reason, refund.GatewayRef).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create refund query failed: %w", err)
	}
	if err := tx.QueryRow(ctx, sql, args...).Scan(&refund.CreatedAt); err != nil {
		return mapError(err, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.RefundedCents = refunded
	p.Status = status
	return nil
}

func (r *PGPaymentRepository) GetRefundByRequestID(ctx context.Context, requestID string) (*domain.Refund, error) {
	row := r.db.QueryRow(ctx, `SELECT id, payment_id, request_id, amount_cents, reason, gateway_ref, created_at FROM refunds WHERE request_id = $1`, requestID)
	var rf domain.Refund
	if err := row.Scan(&rf.ID, &rf.PaymentID, &rf.RequestID, &rf.AmountCents, &rf.Reason, &rf.GatewayRef, &rf.CreatedAt); err != nil {
		return nil, mapError(err, fmt.Errorf("%w: refund request %s", domain.ErrNotFound, requestID))
	}
	return &rf, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	if err := row.Scan(
		&p.ID, &p.BookingID, &p.UserID, &p.AmountCents, &p.Currency, &p.Status,
		&p.GatewayRef, &p.RefundedCents, &p.Error, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

var _ PaymentRepository = (*PGPaymentRepository)(nil)
