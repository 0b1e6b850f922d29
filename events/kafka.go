package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/aquamarinepk/vstore"
)

// messageWriter abstracts kafka.Writer so tests can capture messages.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events with acks from every in-sync replica.
type KafkaPublisher struct {
	writer  messageWriter
	brokers []string
}

func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, brokers: brokers}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	return p.PublishKeyed(ctx, topic, nil, msg)
}

func (p *KafkaPublisher) PublishKeyed(ctx context.Context, topic string, key, msg []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: msg})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// HealthChecks dials the first reachable broker.
func (p *KafkaPublisher) HealthChecks() vstore.HealthChecks {
	return vstore.HealthChecks{
		Readiness: map[string]vstore.HealthCheck{
			"kafka": func(ctx context.Context) error {
				var errs error
				for _, addr := range p.brokers {
					conn, err := kafka.DialContext(ctx, "tcp", addr)
					if err == nil {
						return conn.Close()
					}
					errs = errors.Join(errs, err)
				}
				return errs
			},
		},
	}
}

// Stop flushes pending messages and closes the writer.
func (p *KafkaPublisher) Stop(context.Context) error {
	return p.writer.Close()
}
