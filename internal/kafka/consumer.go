package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Domenick1991/roombooking/internal/delivery"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer delivers each message at least once. The offset is committed only after the
// handler succeeded or the message was parked on the dead-letter topic.
type Consumer struct {
	reader   messageReader
	dlq      messageWriter
	dlqTopic string
	policy   delivery.Policy
	log      *logrus.Entry
}

func NewConsumer(brokers []string, groupID, topic, dlqTopic string, policy delivery.Policy, logger *logrus.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
		dlq: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		dlqTopic: dlqTopic,
		policy:   policy,
		log:      logger.WithFields(logrus.Fields{"component": "kafka.consumer", "topic": topic}),
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	if c.dlq != nil {
		_ = c.dlq.Close()
	}
	return c.reader.Close()
}

// Consume blocks until ctx is cancelled. An error is returned only when a message could
// neither be handled nor dead-lettered; its offset stays uncommitted.
func (c *Consumer) Consume(ctx context.Context, handler delivery.Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		entry := c.log.WithFields(logrus.Fields{"partition": msg.Partition, "offset": msg.Offset, "key": string(msg.Key)})

		attempts, err := delivery.Retry(ctx, c.policy, func(ctx context.Context) error {
			return handler(ctx, msg.Value)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			entry.WithError(err).WithField("attempts", attempts).Error("handler failed, dead-lettering")
			if dlqErr := c.deadLetter(ctx, msg, err, attempts); dlqErr != nil {
				return fmt.Errorf("dead-letter offset %d: %w", msg.Offset, dlqErr)
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int) error {
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.dlqTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "x-error", Value: []byte(cause.Error())},
			kafka.Header{Key: "x-attempts", Value: []byte(strconv.Itoa(attempts))},
			kafka.Header{Key: "x-original-topic", Value: []byte(msg.Topic)},
		),
		Time: time.Now(),
	})
}
