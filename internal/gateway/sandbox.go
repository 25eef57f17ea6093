package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DeclinedMethod is a payment method the sandbox always declines.
const DeclinedMethod = "tok_declined"

// Sandbox is an in-memory gateway for local runs. It remembers charges so refunds are checked
// against what was actually charged, and answers a repeated idempotency key with the first charge.
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]*sandboxCharge
	byKey   map[string]string
}

type sandboxCharge struct {
	amount   int64
	refunded int64
}

func NewSandbox() *Sandbox {
	return &Sandbox{charges: make(map[string]*sandboxCharge), byKey: make(map[string]string)}
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, err
	}
	if req.AmountCents <= 0 {
		return ChargeResult{}, fmt.Errorf("%w: invalid amount", ErrDeclined)
	}

	ref := "chrg_sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if req.PaymentMethod == DeclinedMethod {
		return ChargeResult{GatewayRef: ref}, fmt.Errorf("%w: card declined", ErrDeclined)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.IdempotencyKey != "" {
		if existing, ok := s.byKey[req.IdempotencyKey]; ok {
			return ChargeResult{GatewayRef: existing}, nil
		}
		s.byKey[req.IdempotencyKey] = ref
	}
	s.charges[ref] = &sandboxCharge{amount: req.AmountCents}
	return ChargeResult{GatewayRef: ref}, nil
}

func (s *Sandbox) Refund(ctx context.Context, gatewayRef string, amountCents int64, _ string) (RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return RefundResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.charges[gatewayRef]
	if !ok {
		return RefundResult{}, fmt.Errorf("unknown charge %s", gatewayRef)
	}
	if amountCents <= 0 || ch.refunded+amountCents > ch.amount {
		return RefundResult{}, fmt.Errorf("refund of %d exceeds charge %s", amountCents, gatewayRef)
	}
	ch.refunded += amountCents
	return RefundResult{RefundRef: "rfnd_sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")}, nil
}

var _ Gateway = (*Sandbox)(nil)
