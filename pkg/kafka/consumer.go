// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer decodes them via a pluggable MessageHandler callback.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/resilience"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Message status values passed to ConsumerOptions.Observe.
const (
	StatusProcessed = "processed"
	StatusDropped   = "dropped"
	StatusFailed    = "failed"
)

type ConsumerOptions struct {
	// Retry governs redelivery of handler failures that errors.Retryable
	// accepts; its RetryIf is ignored. Other failures drop the message.
	Retry resilience.RetryConfig
	// Observe, when set, is told the outcome of every message.
	Observe func(status string)
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	opts    ConsumerOptions
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ConsumerOptions) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{
		reader:  r,
		logger:  logger.WithComponent("kafka-consumer").With("topic", topic),
		handler: handler,
		opts:    opts,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. A message is committed once it was processed or dropped as
// permanently invalid; a message whose retries ran out is left uncommitted
// so the group redelivers it after a restart.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return c.reader.Close()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		status := c.process(logger.WithEventID(ctx, string(msg.Key)), msg)
		if c.opts.Observe != nil {
			c.opts.Observe(status)
		}
		if status == StatusFailed {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) string {
	cfg := c.opts.Retry
	cfg.RetryIf = apperrors.Retryable
	err := resilience.Retry(ctx, "handle message", cfg, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	switch {
	case err == nil:
		return StatusProcessed
	case !apperrors.Retryable(err):
		c.logger.Warn("dropping invalid message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return StatusDropped
	default:
		c.logger.Error("failed to process message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return StatusFailed
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
// Malformed values are reported as ErrInvalidInput so they are never retried.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, apperrors.Newf(apperrors.ErrInvalidInput, "decoding kafka message: %v", err)
	}
	return result, nil
}

// ErrUnexpectedValue formats a handler error for a message that decoded but
// cannot be applied.
func ErrUnexpectedValue(format string, args ...any) error {
	return apperrors.New(apperrors.ErrInvalidInput, fmt.Sprintf(format, args...))
}
