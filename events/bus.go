package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Bus is a synchronous in-process Publisher and Subscriber. Handlers run on
// the publishing goroutine in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*subscription
}

type subscription struct {
	handler HandlerFunc
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]*subscription)}
}

// Subscribe registers handler for topic until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	if topic == "" {
		return errors.New("topic required")
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	sub := &subscription{handler: handler}

	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(topic, sub)
	}()
	return nil
}

func (b *Bus) unsubscribe(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[topic]
	for i, s := range subs {
		if s == sub {
			b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[topic]) == 0 {
		delete(b.handlers, topic)
	}
}

// Publish delivers msg to every handler of topic and joins their errors.
func (b *Bus) Publish(ctx context.Context, topic string, msg []byte) error {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	var errs error
	for i, s := range subs {
		if err := s.handler(ctx, msg); err != nil {
			errs = errors.Join(errs, fmt.Errorf("handler %d on %s: %w", i, topic, err))
		}
	}
	return errs
}

// Subscribers reports how many handlers topic has.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
