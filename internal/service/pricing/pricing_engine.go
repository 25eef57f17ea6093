package pricing

import (
	"context"
	"math"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/weather"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type Quote struct {
	BaseCents        int64
	SurchargePercent int
	TotalCents       int64
	Currency         string
	Temperature      float64
	Deviation        float64
	WeatherFallback  bool
}

type RuleSource interface {
	List(ctx context.Context) ([]domain.PricingRule, error)
}

type PricingUseCase interface {
	Price(ctx context.Context, room domain.Room, start, end time.Time, temperature float64) Quote
	Quote(ctx context.Context, room domain.Room, start, end time.Time) Quote
}

type Engine struct {
	cfg    config.PricingConfig
	oracle weather.Oracle
	rules  RuleSource
	log    logrus.FieldLogger
}

// NewEngine: rules may be nil, then the configured brackets are always used.
func NewEngine(cfg config.PricingConfig, oracle weather.Oracle, rules RuleSource, logger logrus.FieldLogger) *Engine {
	return &Engine{cfg: cfg, oracle: oracle, rules: rules, log: logger}
}

// Price never fails: a broken rule table falls back to the configured schedule.
func (e *Engine) Price(ctx context.Context, room domain.Room, start, end time.Time, temperature float64) Quote {
	brackets := e.brackets(ctx)

	deviation := math.Abs(temperature - e.cfg.OptimumTemperature)
	pct := Surcharge(brackets, deviation)
	hours := end.Sub(start).Hours()
	rate := float64(room.HourlyRateCents)

	// округляем только итог
	return Quote{
		BaseCents:        int64(math.Round(rate * hours)),
		SurchargePercent: pct,
		TotalCents:       int64(math.Round(rate * hours * (1 + float64(pct)/100))),
		Currency:         room.Currency,
		Temperature:      temperature,
		Deviation:        deviation,
	}
}

// Quote asks the oracle for the forecast on the booking day and prices with it. A slow or
// failing oracle degrades to the default temperature.
func (e *Engine) Quote(ctx context.Context, room domain.Room, start, end time.Time) Quote {
	ctx, span := otel.Tracer("roombooking/pricing").Start(ctx, "pricing.Quote")
	defer span.End()

	date := start.UTC().Format(domain.DateLayout)
	fallback := false

	wctx, cancel := context.WithTimeout(ctx, e.cfg.WeatherTimeout)
	temp, err := e.oracle.Temperature(wctx, room.Location, date)
	cancel()
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"room_id":  room.ID,
			"location": room.Location,
			"date":     date,
		}).Warn("weather unavailable, using default temperature")
		temp = e.cfg.DefaultTemperature
		fallback = true
	}

	q := e.Price(ctx, room, start, end, temp)
	q.WeatherFallback = fallback
	span.SetAttributes(
		attribute.Float64("pricing.temperature", q.Temperature),
		attribute.Int("pricing.surcharge_percent", q.SurchargePercent),
		attribute.Bool("pricing.weather_fallback", fallback),
	)
	return q
}

func (e *Engine) brackets(ctx context.Context) []config.Bracket {
	if e.rules == nil {
		return e.cfg.Brackets
	}
	rules, err := e.rules.List(ctx)
	if err != nil {
		e.log.WithError(err).Warn("pricing rules unavailable, using configured brackets")
		return e.cfg.Brackets
	}
	if len(rules) == 0 {
		return e.cfg.Brackets
	}

	brackets := BracketsFromRules(rules)
	if err := config.ValidateBrackets(brackets); err != nil {
		e.log.WithError(err).Warn("pricing rules are inconsistent, using configured brackets")
		return e.cfg.Brackets
	}
	return brackets
}

// BracketsFromRules expects rules ordered by deviation, open-ended last.
func BracketsFromRules(rules []domain.PricingRule) []config.Bracket {
	out := make([]config.Bracket, 0, len(rules))
	for _, r := range rules {
		out = append(out, config.Bracket{MaxDeviation: r.DeviationMax, SurchargePercent: r.SurchargePercentage})
	}
	return out
}

// Surcharge returns the percentage of the first bracket whose bound covers deviation.
func Surcharge(brackets []config.Bracket, deviation float64) int {
	for _, b := range brackets {
		if b.MaxDeviation == nil || deviation <= *b.MaxDeviation {
			return b.SurchargePercent
		}
	}
	return 0
}

var _ PricingUseCase = (*Engine)(nil)
