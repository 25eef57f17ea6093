package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/delivery"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/gateway"
	"github.com/Domenick1991/roombooking/internal/lock"
	"github.com/Domenick1991/roombooking/internal/repository/repotest"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock структуры

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(gateway.ChargeResult), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, gatewayRef string, amountCents int64, reason string) (gateway.RefundResult, error) {
	args := m.Called(ctx, gatewayRef, amountCents, reason)
	return args.Get(0).(gateway.RefundResult), args.Error(1)
}

type published struct {
	topic string
	key   string
	value interface{}
}

type recordingProducer struct {
	mu   sync.Mutex
	msgs []published
	// столько первых публикаций завершатся ошибкой
	failures int
}

func (p *recordingProducer) Publish(_ context.Context, topic, key string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.msgs = append(p.msgs, published{topic: topic, key: key, value: value})
	return nil
}

func (p *recordingProducer) refunds() []domain.RefundRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.RefundRequest
	for _, m := range p.msgs {
		if r, ok := m.value.(domain.RefundRequest); ok {
			out = append(out, r)
		}
	}
	return out
}

// lateGateway списывает деньги, но на первый запрос отвечает уже после таймаута.
type lateGateway struct {
	*gateway.Sandbox
	mu    sync.Mutex
	calls int
	refs  map[string]struct{}
}

func newLateGateway() *lateGateway {
	return &lateGateway{Sandbox: gateway.NewSandbox(), refs: make(map[string]struct{})}
}

func (g *lateGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	res, err := g.Sandbox.Charge(context.WithoutCancel(ctx), req)

	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	if err == nil {
		g.refs[res.GatewayRef] = struct{}{}
	}
	g.mu.Unlock()

	if first {
		<-ctx.Done()
		return gateway.ChargeResult{}, ctx.Err()
	}
	return res, err
}

func (p *recordingProducer) events() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.EventType
	for _, m := range p.msgs {
		if e, ok := m.value.(domain.LifecycleEvent); ok {
			out = append(out, e.Type)
		}
	}
	return out
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("pay-%d", s.n)
}

var start = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func pendingBooking() domain.Booking {
	return domain.Booking{
		ID:         "b-1",
		UserID:     "u-1",
		UserEmail:  "alice@example.com",
		RoomID:     "r-1",
		RoomName:   "Aurora",
		StartTime:  start,
		EndTime:    start.Add(2 * time.Hour),
		TotalCents: 44000,
		Currency:   "USD",
		Status:     domain.BookingStatusPending,
	}
}

func paymentRequest() domain.PaymentRequest {
	return domain.PaymentRequest{
		BookingID:     "b-1",
		UserID:        "u-1",
		UserEmail:     "alice@example.com",
		AmountCents:   44000,
		Currency:      "USD",
		PaymentMethod: "tok_visa",
	}
}

func newWorker(gw gateway.Gateway, producer Producer, chargeTimeout time.Duration) (*Worker, *repotest.Store) {
	store := repotest.NewStore()
	store.PutBooking(pendingBooking())
	logger, _ := test.NewNullLogger()

	w := NewWorker(store.Bookings(), store.Payments(), gw, lock.NewLocal(), producer, &seqIDs{},
		config.PaymentConfig{ChargeTimeout: chargeTimeout},
		config.BookingConfig{LockWait: time.Second, LockTTL: 10 * time.Second},
		config.Default().Messaging, logger)
	return w, store
}

func newTestWorker() (*Worker, *repotest.Store, *MockGateway, *recordingProducer) {
	gw := &MockGateway{}
	producer := &recordingProducer{}
	w, store := newWorker(gw, producer, time.Second)
	return w, store, gw, producer
}

var paymentPayload = []byte(`{"booking_id":"b-1","user_id":"u-1","amount_cents":44000,"currency":"USD","payment_method":"tok_visa"}`)

func chargeFor(amount int64) interface{} {
	return mock.MatchedBy(func(r gateway.ChargeRequest) bool {
		return r.AmountCents == amount && r.IdempotencyKey == "b-1" && r.Metadata["booking_id"] == "b-1"
	})
}

func TestWorker_ProcessPayment_Success(t *testing.T) {
	w, store, gw, producer := newTestWorker()

	gw.On("Charge", mock.Anything, chargeFor(44000)).Return(gateway.ChargeResult{GatewayRef: "chrg_1"}, nil).Once()

	err := w.ProcessPayment(context.Background(), paymentRequest())
	require.NoError(t, err)

	booking := store.Booking("b-1")
	assert.Equal(t, domain.BookingStatusConfirmed, booking.Status)
	assert.Equal(t, domain.PaymentStatusSucceeded, booking.PaymentStatus)
	require.NotNil(t, booking.PaymentID)
	assert.Equal(t, "pay-1", *booking.PaymentID)
	assert.NotNil(t, booking.ConfirmedAt)

	payments := store.PaymentsFor("b-1")
	require.Len(t, payments, 1)
	assert.Equal(t, "chrg_1", payments[0].GatewayRef)

	assert.Equal(t, []domain.EventType{domain.EventBookingConfirmed, domain.EventPaymentReceipt}, producer.events())
	gw.AssertExpectations(t)
}

// Повторная доставка того же сообщения не должна списать деньги второй раз.
func TestWorker_ProcessPayment_Idempotent(t *testing.T) {
	w, store, gw, _ := newTestWorker()

	gw.On("Charge", mock.Anything, chargeFor(44000)).Return(gateway.ChargeResult{GatewayRef: "chrg_1"}, nil).Once()

	require.NoError(t, w.ProcessPayment(context.Background(), paymentRequest()))
	require.NoError(t, w.ProcessPayment(context.Background(), paymentRequest()))

	gw.AssertNumberOfCalls(t, "Charge", 1)
	payments := store.PaymentsFor("b-1")
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusSucceeded, payments[0].Status)
	assert.Equal(t, domain.BookingStatusConfirmed, store.Booking("b-1").Status)
}

func TestWorker_ProcessPayment_SettledButPendingIsConfirmed(t *testing.T) {
	w, store, gw, producer := newTestWorker()
	store.PutPayment(domain.Payment{ID: "pay-0", BookingID: "b-1", UserID: "u-1", AmountCents: 44000, Currency: "USD", Status: domain.PaymentStatusSucceeded})

	err := w.ProcessPayment(context.Background(), paymentRequest())

	require.NoError(t, err)
	gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	booking := store.Booking("b-1")
	assert.Equal(t, domain.BookingStatusConfirmed, booking.Status)
	assert.Equal(t, "pay-0", *booking.PaymentID)
	assert.Contains(t, producer.events(), domain.EventBookingConfirmed)
}

func TestWorker_ProcessPayment_NetworkFailureIsRetried(t *testing.T) {
	w, store, gw, _ := newTestWorker()

	gw.On("Charge", mock.Anything, chargeFor(44000)).Return(gateway.ChargeResult{}, errors.New("connection reset by peer")).Once()

	err := w.ProcessPayment(context.Background(), paymentRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientDependency)
	assert.False(t, delivery.IsPermanent(err))

	booking := store.Booking("b-1")
	assert.Equal(t, domain.BookingStatusPending, booking.Status)
	assert.Equal(t, domain.PaymentStatusFailed, booking.PaymentStatus)
	payments := store.PaymentsFor("b-1")
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusFailed, payments[0].Status)
	assert.Contains(t, payments[0].Error, "connection reset")
}

func TestWorker_Handle_RedeliveredAfterNetworkFailure(t *testing.T) {
	w, store, gw, _ := newTestWorker()

	gw.On("Charge", mock.Anything, chargeFor(44000)).Return(gateway.ChargeResult{}, errors.New("timeout")).Once()
	gw.On("Charge", mock.Anything, chargeFor(44000)).Return(gateway.ChargeResult{GatewayRef: "chrg_2"}, nil).Once()

	attempts, err := delivery.Retry(context.Background(), delivery.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		func(ctx context.Context) error { return w.Handle(ctx, paymentPayload) })

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, domain.BookingStatusConfirmed, store.Booking("b-1").Status)

	payments := store.PaymentsFor("b-1")
	require.Len(t, payments, 2)
	assert.Equal(t, domain.PaymentStatusFailed, payments[0].Status)
	assert.Equal(t, domain.PaymentStatusSucceeded, payments[1].Status)
}

// Отказ банка повторяется политикой доставки и уходит в DLQ только после MaxAttempts.
func TestWorker_Handle_DeclinedIsRetried(t *testing.T) {
	w, store, gw, _ := newTestWorker()

	gw.On("Charge", mock.Anything, chargeFor(44000)).
		Return(gateway.ChargeResult{GatewayRef: "chrg_x"}, fmt.Errorf("%w: insufficient funds", gateway.ErrDeclined)).Times(3)

	attempts, err := delivery.Retry(context.Background(), delivery.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		func(ctx context.Context) error { return w.Handle(ctx, paymentPayload) })

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.False(t, delivery.IsPermanent(err))
	assert.ErrorIs(t, err, gateway.ErrDeclined)
	assert.ErrorIs(t, err, domain.ErrTransientDependency)

	assert.Equal(t, domain.BookingStatusPending, store.Booking("b-1").Status)
	payments := store.PaymentsFor("b-1")
	require.Len(t, payments, 3)
	for _, p := range payments {
		assert.Equal(t, domain.PaymentStatusFailed, p.Status)
		assert.Equal(t, "chrg_x", p.GatewayRef)
	}
	gw.AssertExpectations(t)
}

// Ответ шлюза пришёл после таймаута: повтор не должен списать деньги второй раз.
func TestWorker_Handle_LateChargeNotRepeated(t *testing.T) {
	gw := newLateGateway()
	w, store := newWorker(gw, &recordingProducer{}, 10*time.Millisecond)

	attempts, err := delivery.Retry(context.Background(), delivery.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		func(ctx context.Context) error { return w.Handle(ctx, paymentPayload) })

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, gw.calls)
	assert.Len(t, gw.refs, 1)
	assert.Equal(t, domain.BookingStatusConfirmed, store.Booking("b-1").Status)

	// попытка с таймаутом записана как failed, списание одно
	payments := store.PaymentsFor("b-1")
	require.Len(t, payments, 2)
	assert.Equal(t, domain.PaymentStatusFailed, payments[0].Status)
	assert.Equal(t, domain.PaymentStatusSucceeded, payments[1].Status)
	assert.Contains(t, gw.refs, payments[1].GatewayRef)
}

func TestWorker_ProcessPayment_InvalidRequestRecorded(t *testing.T) {
	w, store, gw, _ := newTestWorker()

	req := paymentRequest()
	req.AmountCents = 0

	err := w.ProcessPayment(context.Background(), req)

	require.NoError(t, err)
	gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	payments := store.PaymentsFor("b-1")
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusFailed, payments[0].Status)
	assert.Equal(t, domain.BookingStatusPending, store.Booking("b-1").Status)
}

func TestWorker_ProcessPayment_CancelledBookingNotCharged(t *testing.T) {
	w, store, gw, _ := newTestWorker()
	b := pendingBooking()
	b.Status = domain.BookingStatusCancelled
	store.PutBooking(b)

	err := w.ProcessPayment(context.Background(), paymentRequest())

	require.NoError(t, err)
	gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

// Бронь отменили, пока шёл платёж: деньги уходят в возврат.
func TestWorker_ProcessPayment_CancellationWinsRace(t *testing.T) {
	w, store, gw, producer := newTestWorker()

	gw.On("Charge", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			b := pendingBooking()
			b.Status = domain.BookingStatusCancelled
			store.PutBooking(b)
		}).
		Return(gateway.ChargeResult{GatewayRef: "chrg_1"}, nil).Once()

	err := w.ProcessPayment(context.Background(), paymentRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.BookingStatusCancelled, store.Booking("b-1").Status)
	require.Len(t, producer.msgs, 1)
	assert.Equal(t, "room.refund_requests", producer.msgs[0].topic)
	assert.Equal(t, domain.RefundRequest{
		RequestID: "compensate-pay-1",
		PaymentID: "pay-1",
		Reason:    "booking cancelled before payment settled",
	}, producer.msgs[0].value)
}

// Запрос на возврат не ушёл, бронь уже отменена: повторная доставка должна его отправить.
func TestWorker_Handle_CompensationRetriedAfterPublishFailure(t *testing.T) {
	w, store, gw, producer := newTestWorker()
	producer.failures = 1

	gw.On("Charge", mock.Anything, chargeFor(44000)).
		Run(func(mock.Arguments) {
			b := pendingBooking()
			b.Status = domain.BookingStatusCancelled
			store.PutBooking(b)
		}).
		Return(gateway.ChargeResult{GatewayRef: "chrg_1"}, nil).Once()

	attempts, err := delivery.Retry(context.Background(), delivery.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		func(ctx context.Context) error { return w.Handle(ctx, paymentPayload) })

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, domain.BookingStatusCancelled, store.Booking("b-1").Status)
	assert.Equal(t, []domain.RefundRequest{{
		RequestID: "compensate-pay-1",
		PaymentID: "pay-1",
		Reason:    "booking cancelled before payment settled",
	}}, producer.refunds())
	gw.AssertExpectations(t)
}

// Бронь отменена обычным путём и уже держит платёж: возврат оформляет отмена, не воркер.
func TestWorker_ProcessPayment_CancelledWithOwnPaymentNotCompensated(t *testing.T) {
	w, store, gw, producer := newTestWorker()
	b := pendingBooking()
	b.Status = domain.BookingStatusCancelled
	paymentID := "pay-0"
	b.PaymentID = &paymentID
	b.PaymentStatus = domain.PaymentStatusSucceeded
	store.PutBooking(b)
	store.PutPayment(domain.Payment{ID: "pay-0", BookingID: "b-1", UserID: "u-1", AmountCents: 44000, Currency: "USD", Status: domain.PaymentStatusSucceeded})

	err := w.ProcessPayment(context.Background(), paymentRequest())

	require.NoError(t, err)
	gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	assert.Empty(t, producer.refunds())
}

func TestWorker_Handle_Undecodable(t *testing.T) {
	w, _, _, _ := newTestWorker()

	err := w.Handle(context.Background(), []byte("{not json"))

	assert.True(t, delivery.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWorker_ProcessPayment_UnknownBooking(t *testing.T) {
	w, _, gw, _ := newTestWorker()

	req := paymentRequest()
	req.BookingID = "missing"

	err := w.ProcessPayment(context.Background(), req)

	assert.True(t, delivery.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}
