package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/omise/omise-go"
	"github.com/stretchr/testify/assert"
)

func chargeWith(id string, status omise.ChargeStatus, key string) *omise.Charge {
	ch := &omise.Charge{Status: status, Metadata: map[string]interface{}{"booking_id": "b-1"}}
	ch.ID = id
	if key != "" {
		ch.Metadata[idempotencyMeta] = key
	}
	return ch
}

func TestMatchCharge(t *testing.T) {
	charges := []*omise.Charge{
		chargeWith("chrg_failed", omise.ChargeFailed, "b-1"),
		nil,
		chargeWith("chrg_other", omise.ChargeSuccessful, "b-2"),
		chargeWith("chrg_plain", omise.ChargeSuccessful, ""),
		chargeWith("chrg_ok", omise.ChargeSuccessful, "b-1"),
	}

	assert.Equal(t, "chrg_ok", matchCharge(charges, "b-1"))
	assert.Equal(t, "chrg_other", matchCharge(charges, "b-2"))
	assert.Empty(t, matchCharge(charges, "b-3"))
}

// Известный ключ отвечает без обращения к API.
func TestOmise_FindChargeRemembered(t *testing.T) {
	o := &Omise{charged: make(map[string]string)}
	o.remember("b-1", "chrg_1")
	o.remember("b-2", "")

	ref, err := o.findCharge(context.Background(), "b-1")

	assert.NoError(t, err)
	assert.Equal(t, "chrg_1", ref)
	assert.NotContains(t, o.charged, "b-2")
}

func TestOmise_DoGivesUpOnDeadline(t *testing.T) {
	o := &Omise{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)
	err := o.do(ctx, func() error {
		<-release
		return nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
