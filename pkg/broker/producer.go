package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is one logical message before it is resolved to queues.
type Envelope struct {
	Key       string
	EventType string
	Payload   any
}

type Producer struct {
	writer   MessageWriter
	topology Topology
	timeout  time.Duration
	logger   *slog.Logger
}

// NewKafkaWriter builds a writer without a fixed topic so each message can
// target the queue it was routed to.
func NewKafkaWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewProducer(writer MessageWriter, topology Topology, timeout time.Duration, logger *slog.Logger) *Producer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Producer{writer: writer, topology: topology, timeout: timeout, logger: logger}
}

// PublishToQueue writes env directly to a declared queue.
func (p *Producer) PublishToQueue(ctx context.Context, queue string, env Envelope) error {
	if !p.topology.HasQueue(queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	return p.write(ctx, []string{queue}, "", env)
}

// PublishToExchange resolves routingKey against the exchange bindings and
// writes env to every matching queue. A key with no binding returns
// ErrUnroutable and nothing is written.
func (p *Producer) PublishToExchange(ctx context.Context, exchange, routingKey string, env Envelope) error {
	queues := p.topology.Route(exchange, routingKey)
	if len(queues) == 0 {
		p.logger.Warn("dropping unroutable message",
			slog.String("exchange", exchange),
			slog.String("routing_key", routingKey),
			slog.String("event_type", env.EventType),
		)
		return fmt.Errorf("%w: %s/%s", ErrUnroutable, exchange, routingKey)
	}
	return p.write(ctx, queues, routingKey, env)
}

func (p *Producer) write(ctx context.Context, queues []string, routingKey string, env Envelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.EventType, err)
	}

	eventID := uuid.NewString()
	msgs := make([]kafka.Message, 0, len(queues))
	for _, q := range queues {
		headers := []kafka.Header{
			{Key: HeaderEventID, Value: []byte(eventID)},
			{Key: HeaderEventType, Value: []byte(env.EventType)},
		}
		if routingKey != "" {
			headers = append(headers, kafka.Header{Key: HeaderRoutingKey, Value: []byte(routingKey)})
		}
		msgs = append(msgs, kafka.Message{
			Topic:   q,
			Key:     []byte(env.Key),
			Value:   payload,
			Headers: headers,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Header returns the value of the named header or "".
func Header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
