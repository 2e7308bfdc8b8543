package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
)

// subscribeTimeout bounds the wait for Redis to confirm a subscription.
const subscribeTimeout = 5 * time.Second

// RedisBus is a relay.Bus over Redis pub/sub. Every Join opens its own
// subscription, so publishers hear their own messages like any other
// subscriber does.
type RedisBus struct {
	rdb *redis.Client
}

// NewRedisBus wraps a connected client.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

// Join subscribes to the channel name and forwards payloads to deliver.
func (b *RedisBus) Join(name string, deliver func([]byte)) (relay.Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// 1. Subscribe and wait for the confirmation.
	pubsub := b.rdb.Subscribe(ctx, name)
	waitCtx, waitCancel := context.WithTimeout(ctx, subscribeTimeout)
	defer waitCancel()
	if _, err := pubsub.Receive(waitCtx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	ch := &redisChannel{
		rdb:    b.rdb,
		name:   name,
		pubsub: pubsub,
		ctx:    ctx,
		cancel: cancel,
	}

	// 2. Forward messages until the subscription is closed. deliver may
	// close this channel itself, so Close never waits for this goroutine.
	go func() {
		for msg := range pubsub.Channel() {
			deliver([]byte(msg.Payload))
		}
	}()
	return ch, nil
}

type redisChannel struct {
	rdb    *redis.Client
	name   string
	pubsub *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func (c *redisChannel) Publish(payload []byte) error {
	if c.ctx.Err() != nil {
		return relay.ErrChannelClosed
	}
	return c.rdb.Publish(c.ctx, c.name, payload).Err()
}

func (c *redisChannel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.pubsub.Close()
		log.Printf("Unsubscribed from Redis channel %s", c.name)
	})
	return c.closeErr
}
