package rabbitmq

import (
	"context"
	"fmt"

	"github.com/Domenick1991/roombooking/internal/delivery"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type ConsumerConfig struct {
	URL      string
	Exchange string
	Topic    string
	// DeadLetterTopic names both the DLQ queue and its routing key on the dead-letter exchange.
	DeadLetterTopic string
	Prefetch        int
	Tag             string
}

// Consumer reads one durable queue bound to Topic. A message that exhausts its retries
// is rejected without requeue and lands in DeadLetterTopic through the queue's DLX.
type Consumer struct {
	cfg    ConsumerConfig
	policy delivery.Policy
	log    *logrus.Entry

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(cfg ConsumerConfig, policy delivery.Policy, logger *logrus.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	return &Consumer{
		cfg:    cfg,
		policy: policy,
		log:    logger.WithFields(logrus.Fields{"component": "rabbitmq.consumer", "topic": cfg.Topic}),
	}
}

func (c *Consumer) dlxName() string {
	return c.cfg.Exchange + ".dlx"
}

func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbit dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel failed: %w", err)
	}
	fail := func(format string, err error) error {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf(format, err)
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange failed: %w", err)
	}
	if err := ch.ExchangeDeclare(c.dlxName(), "topic", true, false, false, false, nil); err != nil {
		return fail("declare dlx failed: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.DeadLetterTopic, true, false, false, false, nil); err != nil {
		return fail("declare dlq failed: %w", err)
	}
	if err := ch.QueueBind(c.cfg.DeadLetterTopic, c.cfg.DeadLetterTopic, c.dlxName(), false, nil); err != nil {
		return fail("bind dlq failed: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    c.dlxName(),
		"x-dead-letter-routing-key": c.cfg.DeadLetterTopic,
	}
	q, err := ch.QueueDeclare(c.cfg.Topic, true, false, false, false, args)
	if err != nil {
		return fail("declare queue failed: %w", err)
	}
	if err := ch.QueueBind(q.Name, c.cfg.Topic, c.cfg.Exchange, false, nil); err != nil {
		return fail("bind queue failed: %w", err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fail("set qos failed: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Consumer) Consume(ctx context.Context, handler delivery.Handler) error {
	if c.ch == nil {
		if err := c.Connect(); err != nil {
			return err
		}
	}
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Topic, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume failed: %w", err)
	}
	return c.run(ctx, msgs, handler)
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery, handler delivery.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, d, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, handler delivery.Handler) {
	entry := c.log.WithFields(logrus.Fields{"delivery_tag": d.DeliveryTag, "key": d.CorrelationId})

	attempts, err := delivery.Retry(ctx, c.policy, func(ctx context.Context) error {
		return handler(ctx, d.Body)
	})
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			entry.WithError(ackErr).Warn("ack failed")
		}
		return
	}

	if ctx.Err() != nil {
		// останавливаемся: вернуть в очередь
		_ = d.Nack(false, true)
		return
	}
	entry.WithError(err).WithField("attempts", attempts).Error("handler failed, dead-lettering")
	if nackErr := d.Nack(false, false); nackErr != nil {
		entry.WithError(nackErr).Warn("nack failed")
	}
}
