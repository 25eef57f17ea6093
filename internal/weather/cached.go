package weather

import (
	"context"

	"github.com/sirupsen/logrus"
)

type TemperatureCache interface {
	GetTemperature(ctx context.Context, location, date string) (float64, bool, error)
	SetTemperature(ctx context.Context, location, date string, celsius float64) error
}

// Cached puts a read-through cache in front of an Oracle. Cache failures never fail the lookup.
type Cached struct {
	next  Oracle
	cache TemperatureCache
	log   logrus.FieldLogger
}

func NewCached(next Oracle, cache TemperatureCache, logger logrus.FieldLogger) *Cached {
	return &Cached{next: next, cache: cache, log: logger}
}

func (c *Cached) Temperature(ctx context.Context, location, date string) (float64, error) {
	temp, ok, err := c.cache.GetTemperature(ctx, location, date)
	if err != nil {
		c.log.WithError(err).Warn("weather cache read failed")
	} else if ok {
		return temp, nil
	}

	temp, err = c.next.Temperature(ctx, location, date)
	if err != nil {
		return 0, err
	}

	if err := c.cache.SetTemperature(ctx, location, date, temp); err != nil {
		c.log.WithError(err).Warn("weather cache write failed")
	}
	return temp, nil
}

var _ Oracle = (*Cached)(nil)
