package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// Declare creates every queue of t on the cluster. Declaring an existing
// queue is a no-op, so every service may call it at startup.
func Declare(ctx context.Context, broker string, t Topology, logger *slog.Logger) error {
	var d kafka.Dialer
	conn, err := d.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransport, broker, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("%w: lookup controller: %v", ErrTransport, err)
	}

	controllerConn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("%w: dial controller: %v", ErrTransport, err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(t.Queues))
	for _, q := range t.Queues {
		partitions := q.Partitions
		if partitions <= 0 {
			partitions = 1
		}
		configs = append(configs, kafka.TopicConfig{
			Topic:             q.Name,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create queues: %w", err)
	}
	logger.Info("broker topology declared", slog.Int("queues", len(configs)), slog.Int("bindings", len(t.Bindings)))
	return nil
}
