package repository

import (
	"context"
	"testing"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentRepository_Create_DuplicateSettled(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)

	mock.ExpectQuery("INSERT INTO payments").
		WithArgs("pay-2", "b-1", "", int64(0), "", "succeeded", "", int64(0), "").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "payments_one_settled_per_booking"})

	err := repo.Create(context.Background(), &domain.Payment{ID: "pay-2", BookingID: "b-1", Status: domain.PaymentStatusSucceeded})

	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetSettledByBooking_None(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)

	mock.ExpectQuery("SELECT (.+) FROM payments WHERE booking_id = \\$1 AND status IN").
		WithArgs("b-1", "succeeded", "partially_refunded", "refunded").
		WillReturnRows(pgxmock.NewRows(paymentColumns))

	p, err := repo.GetSettledByBooking(context.Background(), "b-1")

	assert.Nil(t, p)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_ApplyRefund_Full(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)
	now := time.Now()

	payment := &domain.Payment{ID: "pay-1", AmountCents: 40000, Status: domain.PaymentStatusSucceeded}
	refund := &domain.Refund{ID: "rf-1", PaymentID: "pay-1", RequestID: "req-1", AmountCents: 40000}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE payments").
		WithArgs(int64(40000), "refunded", "pay-1", int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{"refunded_cents"}).AddRow(int64(40000)))
	mock.ExpectQuery("INSERT INTO refunds").
		WithArgs("rf-1", "pay-1", "req-1", int64(40000), "", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	err := repo.ApplyRefund(context.Background(), payment, refund, domain.PaymentStatusRefunded)

	require.NoError(t, err)
	assert.Equal(t, int64(40000), payment.RefundedCents)
	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)
	assert.Equal(t, now, refund.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_ApplyRefund_ConcurrentChange(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock)

	payment := &domain.Payment{ID: "pay-1", AmountCents: 40000, RefundedCents: 10000, Status: domain.PaymentStatusPartiallyRefunded}
	refund := &domain.Refund{ID: "rf-2", PaymentID: "pay-1", RequestID: "req-2", AmountCents: 5000}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE payments").
		WithArgs(int64(5000), "partially_refunded", "pay-1", int64(10000)).
		WillReturnRows(pgxmock.NewRows([]string{"refunded_cents"}))
	mock.ExpectRollback()

	err := repo.ApplyRefund(context.Background(), payment, refund, domain.PaymentStatusPartiallyRefunded)

	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int64(10000), payment.RefundedCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomRepository_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewRoomRepository(mock)

	mock.ExpectQuery("SELECT (.+) FROM rooms WHERE id = \\$1").
		WithArgs("r-404").
		WillReturnRows(pgxmock.NewRows(roomColumns))

	room, err := repo.GetByID(context.Background(), "r-404")

	assert.Nil(t, room)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomRepository_List_Filtered(t *testing.T) {
	mock := newMock(t)
	repo := NewRoomRepository(mock)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM rooms WHERE capacity >= \\$1 AND location ILIKE \\$2 ORDER BY name ASC").
		WithArgs(10, "%Berlin%").
		WillReturnRows(pgxmock.NewRows(roomColumns).
			AddRow("r-1", "Aurora", "Berlin", 12, "", int64(5000), "USD", "", now, now))

	rooms, err := repo.List(context.Background(), domain.RoomFilter{MinCapacity: 10, Location: "Berlin"})

	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, int64(5000), rooms[0].HourlyRateCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRuleRepository_List(t *testing.T) {
	mock := newMock(t)
	repo := NewPricingRuleRepository(mock)
	two := 2.0

	mock.ExpectQuery("SELECT (.+) FROM pricing_rules ORDER BY temperature_deviation_max ASC NULLS LAST").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "temperature_deviation_max", "surcharge_percentage"}).
			AddRow("comfort", "Comfort", "", &two, 0).
			AddRow("extreme", "Extreme", "", nil, 30))

	rules, err := repo.List(context.Background())

	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 2.0, *rules[0].DeviationMax)
	assert.Nil(t, rules[1].DeviationMax)
	assert.Equal(t, 30, rules[1].SurchargePercentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_Create(t *testing.T) {
	mock := newMock(t)
	repo := NewNotificationRepository(mock)
	sentAt := time.Now()

	mock.ExpectExec("INSERT INTO notifications").
		WithArgs("n-1", "booking_confirmed", "u-1", "user@example.com", "b-1", "sent", "", "msg-1", sentAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), &domain.NotificationRecord{
		ID:        "n-1",
		Type:      domain.EventBookingConfirmed,
		UserID:    "u-1",
		Email:     "user@example.com",
		BookingID: "b-1",
		Status:    domain.NotificationSent,
		MessageID: "msg-1",
		SentAt:    sentAt,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
