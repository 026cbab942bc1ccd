package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
	"github.com/segmentio/kafka-go"
)

// ErrDropped is returned by a handler that intentionally discards a message,
// for example when the order it refers to no longer exists.
var ErrDropped = errors.New("message dropped")

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler func(ctx context.Context, msg kafka.Message) error

type ConsumerConfig struct {
	Queue string
	// MaxAttempts failures in a row escalate the log level; retries continue.
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Consumer delivers every message of one queue to a handler at least once.
// The offset is committed only after the handler applies, drops or rejects
// the message as undecodable. A message that keeps failing blocks the queue
// and is retried until ctx is canceled; it is never committed unapplied.
type Consumer struct {
	cfg     ConsumerConfig
	reader  MessageReader
	handler Handler
	metrics *metrics.ConsumerMetrics
	logger  *slog.Logger
}

func NewKafkaReader(brokers []string, groupID, queue string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    queue,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewConsumer(cfg ConsumerConfig, reader MessageReader, handler Handler, m *metrics.ConsumerMetrics, logger *slog.Logger) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	cfg.MaxBackoff = max(cfg.MaxBackoff, cfg.Backoff)
	return &Consumer{
		cfg:     cfg,
		reader:  reader,
		handler: handler,
		metrics: m,
		logger:  logger.With(slog.String("queue", cfg.Queue)),
	}
}

// Run blocks until ctx is canceled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("fetch message", slog.Any("error", err))
			if !sleepCtx(ctx, c.cfg.Backoff) {
				return nil
			}
			continue
		}

		result := c.handle(ctx, msg)
		c.metrics.Observe(c.cfg.Queue, result)
		if result == metrics.ConsumerFailed {
			// shutting down mid-retry: leave the offset for redelivery
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("commit message", slog.Any("error", err), slog.Int64("offset", msg.Offset))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) string {
	log := c.logger.With(
		slog.String("key", string(msg.Key)),
		slog.String("event_id", Header(msg, HeaderEventID)),
		slog.Int64("offset", msg.Offset),
	)

	backoff := c.cfg.Backoff
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg)
		switch {
		case err == nil:
			log.Debug("message applied")
			return metrics.ConsumerApplied
		case errors.Is(err, ErrDecode):
			log.Warn("discarding malformed message", slog.Any("error", err))
			return metrics.ConsumerDecodeFailed
		case errors.Is(err, ErrDropped):
			log.Info("message dropped", slog.Any("reason", err))
			return metrics.ConsumerDropped
		}

		if attempt < c.cfg.MaxAttempts {
			log.Warn("handler failed", slog.Int("attempt", attempt), slog.Any("error", err))
		} else {
			log.Error("handler still failing", slog.Int("attempt", attempt), slog.Any("error", err))
		}
		if !sleepCtx(ctx, backoff) {
			return metrics.ConsumerFailed
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
