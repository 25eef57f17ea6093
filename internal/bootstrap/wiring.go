package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/cache"
	"github.com/Domenick1991/roombooking/internal/delivery"
	"github.com/Domenick1991/roombooking/internal/gateway"
	"github.com/Domenick1991/roombooking/internal/kafka"
	"github.com/Domenick1991/roombooking/internal/lock"
	"github.com/Domenick1991/roombooking/internal/rabbitmq"
	"github.com/Domenick1991/roombooking/internal/weather"
	"github.com/sirupsen/logrus"
)

type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, handler delivery.Handler) error
	Close() error
}

// NewLocker picks the distributed Redis lock or the in-process one for single-instance runs.
func NewLocker(cfg config.BookingConfig, redisCache *cache.RedisCache) Locker {
	if cfg.LockBackend == config.LockLocal {
		return lock.NewLocal()
	}
	return redisCache
}

func NewProducer(cfg *config.Config, logger *logrus.Logger) (Producer, error) {
	switch cfg.Messaging.Driver {
	case config.DriverRabbitMQ:
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	default:
		return kafka.NewProducer(cfg.Kafka.Brokers, logger), nil
	}
}

// NewConsumer subscribes to topic; failed messages end up on topic+DeadLetterSuffix.
func NewConsumer(cfg *config.Config, topic, tag string, logger *logrus.Logger) Consumer {
	policy := delivery.PolicyFromConfig(cfg.Worker)
	dlq := topic + cfg.Messaging.DeadLetterSuffix

	if cfg.Messaging.Driver == config.DriverRabbitMQ {
		return rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
			URL:             cfg.RabbitMQ.URL,
			Exchange:        cfg.RabbitMQ.Exchange,
			Topic:           topic,
			DeadLetterTopic: dlq,
			Prefetch:        cfg.RabbitMQ.Prefetch,
			Tag:             tag,
		}, policy, logger)
	}
	return kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, topic, dlq, policy, logger)
}

func NewGateway(cfg config.PaymentConfig) (gateway.Gateway, error) {
	if cfg.Gateway == config.GatewayOmise {
		gw, err := gateway.NewOmise(cfg.OmisePublicKey, cfg.OmiseSecretKey)
		if err != nil {
			return nil, fmt.Errorf("omise client: %w", err)
		}
		return gw, nil
	}
	return gateway.NewSandbox(), nil
}

// NewOracle falls back to a constant temperature when no weather service is configured.
func NewOracle(cfg *config.Config, temps weather.TemperatureCache, logger logrus.FieldLogger) weather.Oracle {
	if cfg.Weather.BaseURL == "" {
		return weather.Fixed(cfg.Pricing.DefaultTemperature)
	}
	client := weather.NewClient(cfg.Weather.BaseURL, &http.Client{Timeout: cfg.Pricing.WeatherTimeout})
	return weather.NewCached(client, temps, logger)
}
