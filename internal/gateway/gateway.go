// Package gateway charges and refunds through an external payment provider.
package gateway

import (
	"context"
	"errors"
)

// ErrDeclined is returned when the provider answered but refused the charge.
var ErrDeclined = errors.New("charge declined")

type ChargeRequest struct {
	// IdempotencyKey identifies one logical charge. A repeated key must not move money twice.
	IdempotencyKey string
	AmountCents    int64
	Currency       string
	PaymentMethod  string
	Metadata       map[string]string
}

type ChargeResult struct {
	GatewayRef string
}

type RefundResult struct {
	RefundRef string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, gatewayRef string, amountCents int64, reason string) (RefundResult, error)
}
