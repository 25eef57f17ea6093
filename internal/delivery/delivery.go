// Package delivery holds the at-least-once retry policy shared by the Kafka and RabbitMQ consumers.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/cenkalti/backoff/v5"
)

// Handler processes one message payload. A nil error means the message may be acknowledged.
type Handler func(ctx context.Context, payload []byte) error

type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func PolicyFromConfig(cfg config.WorkerConfig) Policy {
	return Policy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

// Permanent marks err as not worth retrying, e.g. an undecodable payload.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval: p.InitialBackoff,
		Multiplier:      2,
		MaxInterval:     p.MaxBackoff,
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	return b
}

// Retry runs fn until it succeeds, returns a permanent error, or MaxAttempts is used up.
// It returns the last error, still carrying the permanent mark, and the number of attempts made.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	var (
		attempts int
		last     error
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		last = fn(ctx)
		return struct{}{}, last
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.MaxAttempts, 1))),
		// лимит задаёт только MaxAttempts
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return attempts, nil
	}
	if ctx.Err() != nil && !errors.Is(last, ctx.Err()) {
		return attempts, errors.Join(last, ctx.Err())
	}
	return attempts, last
}
