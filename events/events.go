// Package events publishes committed version changes to in-process
// subscribers or to Kafka.
package events

import "context"

// HandlerFunc processes an event message.
type HandlerFunc func(ctx context.Context, msg []byte) error

// Publisher publishes events to topics. It satisfies vstore.PubSub.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg []byte) error
}

// KeyedPublisher is implemented by brokers that partition by key. Messages
// sharing a key keep their order.
type KeyedPublisher interface {
	PublishKeyed(ctx context.Context, topic string, key, msg []byte) error
}

// Subscriber subscribes to topics and processes events.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler HandlerFunc) error
}
