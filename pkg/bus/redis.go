package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelock:bus"

// RedisBus implements Bus on Redis lists. Every (topic, subscription) pair
// has its own queue list; publishes fan out to each registered subscription.
// Polled messages move atomically onto a per-subscription pending list and
// are removed on ack, so a crashed consumer's in-flight messages can be
// reclaimed on restart (at-least-once).
type RedisBus struct {
	client  *redis.Client
	pollMax int64
}

func NewRedisBus(addr, password string, db int) *RedisBus {
	return &RedisBus{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		pollMax: 16,
	}
}

func subsKey(topic string) string {
	return fmt.Sprintf("%s:%s:subs", redisKeyPrefix, topic)
}

func queueKey(topic, subscription string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, topic, subscription)
}

func pendingKey(topic, subscription string) string {
	return queueKey(topic, subscription) + ":pending"
}

// Subscribe registers the subscription for fan-out and reclaims any
// in-flight messages a previous consumer left on the pending list.
func (b *RedisBus) Subscribe(ctx context.Context, topic, subscription string) error {
	if err := b.client.SAdd(ctx, subsKey(topic), subscription).Err(); err != nil {
		return fmt.Errorf("register subscription: %w", err)
	}
	for {
		err := b.client.LMove(ctx, pendingKey(topic, subscription), queueKey(topic, subscription), "RIGHT", "RIGHT").Err()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reclaim pending: %w", err)
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	subs, err := b.client.SMembers(ctx, subsKey(topic)).Result()
	if err != nil {
		return fmt.Errorf("list subscriptions for %s: %w", topic, err)
	}
	for _, sub := range subs {
		if err := b.client.LPush(ctx, queueKey(topic, sub), body).Err(); err != nil {
			return fmt.Errorf("publish to %s/%s: %w", topic, sub, err)
		}
	}
	return nil
}

func (b *RedisBus) Poll(ctx context.Context, topic, subscription string, maxWait time.Duration) ([]Delivery, error) {
	qk := queueKey(topic, subscription)
	pk := pendingKey(topic, subscription)

	var out []Delivery
	for int64(len(out)) < b.pollMax {
		var body string
		var err error
		if len(out) == 0 && maxWait > 0 {
			// Bounded blocking wait for the first message only.
			body, err = b.client.BLMove(ctx, qk, pk, "RIGHT", "LEFT", maxWait).Result()
		} else {
			body, err = b.client.LMove(ctx, qk, pk, "RIGHT", "LEFT").Result()
		}
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, fmt.Errorf("poll %s/%s: %w", topic, subscription, err)
		}
		var msg Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			// Poison payload: drop it from pending so it cannot wedge the loop.
			_ = b.client.LRem(ctx, pk, 1, body).Err()
			return out, fmt.Errorf("corrupt message on %s/%s: %w", topic, subscription, err)
		}
		out = append(out, b.delivery(qk, pk, body, msg))
	}
	return out, nil
}

func (b *RedisBus) delivery(qk, pk, body string, msg Message) Delivery {
	return Delivery{
		Message: msg,
		Ack: func() error {
			return b.client.LRem(context.Background(), pk, 1, body).Err()
		},
		Nack: func() error {
			ctx := context.Background()
			if err := b.client.LRem(ctx, pk, 1, body).Err(); err != nil {
				return err
			}
			return b.client.RPush(ctx, qk, body).Err()
		},
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
