package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

type Omise struct {
	client *omise.Client

	mu      sync.Mutex
	charged map[string]string // idempotency key -> charge id
}

// idempotencyMeta is the charge metadata field that carries ChargeRequest.IdempotencyKey.
const idempotencyMeta = "idempotency_key"

// chargeLookback bounds the search for a charge made by an earlier attempt.
const chargeLookback = 24 * time.Hour

func NewOmise(publicKey, secretKey string) (*Omise, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("create omise client: %w", err)
	}
	c.SetDebug(false)
	return &Omise{client: c, charged: make(map[string]string)}, nil
}

// do runs a blocking SDK call and gives up when ctx is done. The SDK call itself keeps
// running in the background until its own HTTP timeout, so the outcome is unknown.
func (o *Omise) do(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- call()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Omise) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if req.IdempotencyKey != "" {
		// предыдущая попытка могла списать деньги и не дождаться ответа
		ref, err := o.findCharge(ctx, req.IdempotencyKey)
		if err != nil {
			return ChargeResult{}, fmt.Errorf("omise find charge: %w", err)
		}
		if ref != "" {
			return ChargeResult{GatewayRef: ref}, nil
		}
	}

	metadata := make(map[string]interface{}, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.IdempotencyKey != "" {
		metadata[idempotencyMeta] = req.IdempotencyKey
	}

	ch := &omise.Charge{}
	op := &operations.CreateCharge{
		Amount:   req.AmountCents,
		Currency: strings.ToLower(req.Currency),
		Card:     req.PaymentMethod,
		Metadata: metadata,
	}
	if err := o.do(ctx, func() error { return o.client.Do(ch, op) }); err != nil {
		return ChargeResult{}, fmt.Errorf("omise create charge: %w", err)
	}

	// pending / awaiting_authorize тоже считаем неуспехом: подтверждение только синхронное
	if ch.Status != omise.ChargeSuccessful {
		reason := string(ch.Status)
		if ch.FailureMessage != nil {
			reason = *ch.FailureMessage
		}
		return ChargeResult{GatewayRef: ch.ID}, fmt.Errorf("%w: %s", ErrDeclined, reason)
	}
	o.remember(req.IdempotencyKey, ch.ID)
	return ChargeResult{GatewayRef: ch.ID}, nil
}

// findCharge returns the successful charge already made under key, or "" if there is none.
func (o *Omise) findCharge(ctx context.Context, key string) (string, error) {
	o.mu.Lock()
	ref, ok := o.charged[key]
	o.mu.Unlock()
	if ok {
		return ref, nil
	}

	list := &omise.ChargeList{}
	op := &operations.ListCharges{List: operations.List{
		Limit: 100,
		From:  time.Now().Add(-chargeLookback),
		Order: omise.ReverseChronological,
	}}
	if err := o.do(ctx, func() error { return o.client.Do(list, op) }); err != nil {
		return "", err
	}
	ref = matchCharge(list.Data, key)
	o.remember(key, ref)
	return ref, nil
}

func matchCharge(charges []*omise.Charge, key string) string {
	for _, ch := range charges {
		if ch == nil || ch.Status != omise.ChargeSuccessful {
			continue
		}
		if v, _ := ch.Metadata[idempotencyMeta].(string); v == key {
			return ch.ID
		}
	}
	return ""
}

func (o *Omise) remember(key, ref string) {
	if key == "" || ref == "" {
		return
	}
	o.mu.Lock()
	o.charged[key] = ref
	o.mu.Unlock()
}

// Refund ignores reason: it is kept on our side in the refunds table.
func (o *Omise) Refund(ctx context.Context, gatewayRef string, amountCents int64, _ string) (RefundResult, error) {
	rf := &omise.Refund{}
	op := &operations.CreateRefund{
		ChargeID: gatewayRef,
		Amount:   amountCents,
	}
	if err := o.do(ctx, func() error { return o.client.Do(rf, op) }); err != nil {
		return RefundResult{}, fmt.Errorf("omise create refund: %w", err)
	}
	return RefundResult{RefundRef: rf.ID}, nil
}

var _ Gateway = (*Omise)(nil)
