package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus for development and tests. Each named
// subscription gets its own copy of every message published to the topic
// after the subscription first polled (or was registered). Nacked deliveries
// return to the head of the subscription queue; there is no delivery lease,
// so a consumer that stops without acking or nacking drops its batch.
// RedisBus carries the pending-list reclaim needed for crash safety.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[string]*memorySub // topic -> subscription -> queue
	closed bool
}

type memorySub struct {
	queue []Message
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[string]*memorySub)}
}

// Subscribe registers a named subscription so publishes fan out to it before
// its first poll. Polling an unknown subscription registers it implicitly.
func (b *MemoryBus) Subscribe(topic, subscription string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sub(topic, subscription)
}

func (b *MemoryBus) sub(topic, subscription string) *memorySub {
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*memorySub)
	}
	s := b.subs[topic][subscription]
	if s == nil {
		s = &memorySub{}
		b.subs[topic][subscription] = s
	}
	return s
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, s := range b.subs[topic] {
		s.queue = append(s.queue, msg)
	}
	return nil
}

func (b *MemoryBus) Poll(ctx context.Context, topic, subscription string, maxWait time.Duration) ([]Delivery, error) {
	deadline := time.Now().Add(maxWait)
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrBusClosed
		}
		s := b.sub(topic, subscription)
		if len(s.queue) > 0 {
			batch := s.queue
			s.queue = nil
			b.mu.Unlock()
			out := make([]Delivery, 0, len(batch))
			for _, m := range batch {
				out = append(out, b.delivery(topic, subscription, m))
			}
			return out, nil
		}
		b.mu.Unlock()

		if maxWait <= 0 || !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (b *MemoryBus) delivery(topic, subscription string, m Message) Delivery {
	return Delivery{
		Message: m,
		Ack:     func() error { return nil },
		Nack: func() error {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return ErrBusClosed
			}
			s := b.sub(topic, subscription)
			s.queue = append([]Message{m}, s.queue...)
			return nil
		},
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
