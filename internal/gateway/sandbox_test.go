package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_ChargeAndRefund(t *testing.T) {
	gw := NewSandbox()
	ctx := context.Background()

	res, err := gw.Charge(ctx, ChargeRequest{AmountCents: 44000, Currency: "USD", PaymentMethod: "tok_visa"})
	require.NoError(t, err)
	assert.Contains(t, res.GatewayRef, "chrg_sbx_")

	_, err = gw.Refund(ctx, res.GatewayRef, 40000, "partial")
	require.NoError(t, err)

	_, err = gw.Refund(ctx, res.GatewayRef, 5000, "too much")
	assert.Error(t, err)

	rf, err := gw.Refund(ctx, res.GatewayRef, 4000, "rest")
	require.NoError(t, err)
	assert.Contains(t, rf.RefundRef, "rfnd_sbx_")
}

func TestSandbox_Declined(t *testing.T) {
	gw := NewSandbox()

	res, err := gw.Charge(context.Background(), ChargeRequest{AmountCents: 100, Currency: "USD", PaymentMethod: DeclinedMethod})
	assert.ErrorIs(t, err, ErrDeclined)
	assert.NotEmpty(t, res.GatewayRef)

	_, err = gw.Refund(context.Background(), res.GatewayRef, 100, "")
	assert.Error(t, err)
}

func TestSandbox_CancelledContext(t *testing.T) {
	gw := NewSandbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Charge(ctx, ChargeRequest{AmountCents: 100, Currency: "USD", PaymentMethod: "tok_visa"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSandbox_SameKeyChargesOnce(t *testing.T) {
	gw := NewSandbox()
	ctx := context.Background()
	req := ChargeRequest{IdempotencyKey: "b-1", AmountCents: 44000, Currency: "USD", PaymentMethod: "tok_visa"}

	first, err := gw.Charge(ctx, req)
	require.NoError(t, err)
	second, err := gw.Charge(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.GatewayRef, second.GatewayRef)
	assert.Len(t, gw.charges, 1)

	// возврат всей суммы возможен только один раз
	_, err = gw.Refund(ctx, first.GatewayRef, 44000, "")
	require.NoError(t, err)
	_, err = gw.Refund(ctx, second.GatewayRef, 44000, "")
	assert.Error(t, err)
}

func TestSandbox_DeclinedKeyCanBeRetried(t *testing.T) {
	gw := NewSandbox()
	ctx := context.Background()

	_, err := gw.Charge(ctx, ChargeRequest{IdempotencyKey: "b-1", AmountCents: 100, Currency: "USD", PaymentMethod: DeclinedMethod})
	require.ErrorIs(t, err, ErrDeclined)

	res, err := gw.Charge(ctx, ChargeRequest{IdempotencyKey: "b-1", AmountCents: 100, Currency: "USD", PaymentMethod: "tok_visa"})
	require.NoError(t, err)
	assert.Contains(t, gw.charges, res.GatewayRef)
}
