package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

type subscription struct {
	ch   chan Message
	once sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// InMemoryBroker is an in-process implementation of Broker.
// Every subscriber of a topic receives every message; a subscriber whose
// buffer is full misses the message rather than blocking the publisher.
type InMemoryBroker struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	offsets     map[string]int64
	closed      bool
	dropped     atomic.Int64
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		subscribers: make(map[string][]*subscription),
		offsets:     make(map[string]int64),
	}
}

// Publish delivers a message to all current subscribers of the topic.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("broker is closed")
	}

	msg := Message{
		Topic:     topic,
		Key:       key,
		Value:     append([]byte(nil), value...),
		Offset:    b.offsets[topic],
		Timestamp: time.Now().UnixMilli(),
	}
	b.offsets[topic]++

	for _, sub := range b.subscribers[topic] {
		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe returns a channel receiving messages published to topic after
// this call. The channel is closed when ctx is done or the broker closes.
// groupID is ignored.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}

	sub := &subscription{ch: make(chan Message, subscriberBuffer)}
	b.subscribers[topic] = append(b.subscribers[topic], sub)

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			b.unsubscribe(topic, sub)
		}()
	}

	return sub.ch, nil
}

func (b *InMemoryBroker) unsubscribe(topic string, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, sub := range subs {
		if sub == target {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	target.close()
}

// Subscribers returns how many subscriptions topic currently has.
func (b *InMemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *InMemoryBroker) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Further calls fail.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subscribers = make(map[string][]*subscription)
	return nil
}
