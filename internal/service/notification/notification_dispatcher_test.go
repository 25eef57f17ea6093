package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/delivery"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock структуры

type MockBookings struct {
	mock.Mock
}

func (m *MockBookings) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

type MockRecords struct {
	mock.Mock
}

func (m *MockRecords) Create(ctx context.Context, record *domain.NotificationRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockRecords) ListByBooking(ctx context.Context, bookingID string) ([]domain.NotificationRecord, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]domain.NotificationRecord), args.Error(1)
}

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Send(ctx context.Context, to, subject, htmlBody string) (string, error) {
	args := m.Called(ctx, to, subject, htmlBody)
	return args.String(0), args.Error(1)
}

type fixedID string

func (f fixedID) NewID() string { return string(f) }

var now = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func testBooking() *domain.Booking {
	return &domain.Booking{
		ID:            "b-1",
		UserID:        "u-1",
		UserEmail:     "alice@example.com",
		RoomName:      "Aurora",
		StartTime:     time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		EndTime:       time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC),
		TotalCents:    44000,
		Currency:      "USD",
		Status:        domain.BookingStatusConfirmed,
		PaymentStatus: domain.PaymentStatusSucceeded,
	}
}

func newTestDispatcher() (*Dispatcher, *MockBookings, *MockRecords, *MockChannel) {
	bookings := &MockBookings{}
	records := &MockRecords{}
	channel := &MockChannel{}
	logger, _ := test.NewNullLogger()

	cfg := config.Default().Notification
	d := NewDispatcher(bookings, records, channel, fixedID("n-1"), cfg, logger)
	d.now = func() time.Time { return now }
	return d, bookings, records, channel
}

func TestDispatcher_Confirmed_NotifiesUserAndAdmin(t *testing.T) {
	d, bookings, records, channel := newTestDispatcher()
	ctx := context.Background()

	// Настройка моков
	bookings.On("GetByID", ctx, "b-1").Return(testBooking(), nil).Once()
	channel.On("Send", ctx, "alice@example.com", "Booking Confirmed - Aurora", mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "440.00 USD") && strings.Contains(body, "Mon, 02 Jun 2025 09:00 UTC")
	})).Return("msg-1", nil).Once()
	channel.On("Send", ctx, "admin@conferencerooms.com", "Booking Confirmed - Aurora", mock.Anything).Return("msg-2", nil).Once()
	records.On("Create", mock.Anything, mock.MatchedBy(func(r *domain.NotificationRecord) bool {
		return r.Status == domain.NotificationSent && r.BookingID == "b-1" && r.MessageID != "" && r.SentAt.Equal(now)
	})).Return(nil).Twice()

	// Выполнение
	err := d.Dispatch(ctx, domain.LifecycleEvent{Type: domain.EventBookingConfirmed, BookingID: "b-1"})

	// Проверки
	require.NoError(t, err)
	channel.AssertExpectations(t)
	records.AssertExpectations(t)
}

func TestDispatcher_Subjects(t *testing.T) {
	testCases := []struct {
		eventType  domain.EventType
		subject    string
		recipients int
	}{
		{domain.EventBookingCancelled, "Booking Cancelled - Aurora", 2},
		{domain.EventBookingReminder, "Reminder: Aurora booking", 1},
		{domain.EventPaymentReceipt, "Payment Receipt - Aurora", 1},
	}

	for _, tc := range testCases {
		t.Run(string(tc.eventType), func(t *testing.T) {
			d, bookings, records, channel := newTestDispatcher()
			ctx := context.Background()

			bookings.On("GetByID", ctx, "b-1").Return(testBooking(), nil).Once()
			channel.On("Send", ctx, mock.Anything, tc.subject, mock.Anything).Return("msg", nil).Times(tc.recipients)
			records.On("Create", mock.Anything, mock.Anything).Return(nil).Times(tc.recipients)

			err := d.Dispatch(ctx, domain.LifecycleEvent{Type: tc.eventType, BookingID: "b-1", PaymentID: "pay-1"})

			require.NoError(t, err)
			channel.AssertExpectations(t)
		})
	}
}

func TestDispatcher_DeliveryFailureRecordedAndReturned(t *testing.T) {
	d, bookings, records, channel := newTestDispatcher()
	ctx := context.Background()

	bookings.On("GetByID", ctx, "b-1").Return(testBooking(), nil).Once()
	channel.On("Send", ctx, "alice@example.com", mock.Anything, mock.Anything).Return("", errors.New("421 service not available")).Once()
	records.On("Create", mock.Anything, mock.MatchedBy(func(r *domain.NotificationRecord) bool {
		return r.Status == domain.NotificationFailed && r.Error == "421 service not available" && r.MessageID == ""
	})).Return(nil).Once()

	err := d.Dispatch(ctx, domain.LifecycleEvent{Type: domain.EventBookingReminder, BookingID: "b-1"})

	assert.ErrorIs(t, err, domain.ErrTransientDependency)
	assert.False(t, delivery.IsPermanent(err))
	records.AssertExpectations(t)
}

// Сбой записи аудита не мешает доставке.
func TestDispatcher_RecordFailureIgnored(t *testing.T) {
	d, bookings, records, channel := newTestDispatcher()
	ctx := context.Background()

	bookings.On("GetByID", ctx, "b-1").Return(testBooking(), nil).Once()
	channel.On("Send", ctx, "alice@example.com", mock.Anything, mock.Anything).Return("msg-1", nil).Once()
	records.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	err := d.Dispatch(ctx, domain.LifecycleEvent{Type: domain.EventPaymentReceipt, BookingID: "b-1"})
	assert.NoError(t, err)
}

func TestDispatcher_PermanentFailures(t *testing.T) {
	d, bookings, _, channel := newTestDispatcher()
	ctx := context.Background()

	bookings.On("GetByID", ctx, "missing").Return(nil, domain.ErrBookingNotFound).Once()
	bookings.On("GetByID", ctx, "b-1").Return(testBooking(), nil).Once()

	err := d.Dispatch(ctx, domain.LifecycleEvent{Type: domain.EventBookingConfirmed, BookingID: "missing"})
	assert.True(t, delivery.IsPermanent(err))

	err = d.Dispatch(ctx, domain.LifecycleEvent{Type: "booking_exploded", BookingID: "b-1"})
	assert.True(t, delivery.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = d.Handle(ctx, []byte("nope"))
	assert.True(t, delivery.IsPermanent(err))

	channel.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_LedgerDownIsTransient(t *testing.T) {
	d, bookings, _, _ := newTestDispatcher()
	ctx := context.Background()

	bookings.On("GetByID", ctx, "b-1").Return(nil, errors.New("connection refused")).Once()

	err := d.Dispatch(ctx, domain.LifecycleEvent{Type: domain.EventBookingConfirmed, BookingID: "b-1"})
	assert.ErrorIs(t, err, domain.ErrTransientDependency)
	assert.False(t, delivery.IsPermanent(err))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "440.00 USD", FormatAmount(44000, "USD"))
	assert.Equal(t, "54.99 EUR", FormatAmount(5499, "EUR"))
	assert.Equal(t, "0.05 USD", FormatAmount(5, "USD"))
}
