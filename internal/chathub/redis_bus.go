package chathub

import (
	"clinicmsg/backend/pkg/logger"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus shares groups across server instances through Redis Pub/Sub.
// One PubSub connection carries every group this instance has subscribers
// for; incoming messages are dispatched through a local MemoryBus.
type RedisBus struct {
	rdb    *redis.Client
	ps     *redis.PubSub
	local  *MemoryBus
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBus{
		rdb:    rdb,
		ps:     rdb.Subscribe(ctx),
		local:  NewMemoryBus(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.local.onFirst = func(g Group) error {
		return b.ps.Subscribe(b.ctx, string(g))
	}
	b.local.onLast = func(g Group) {
		if err := b.ps.Unsubscribe(b.ctx, string(g)); err != nil {
			logger.Warn().Err(err).Str("group", string(g)).Msg("redis unsubscribe failed")
		}
	}

	go b.listen()
	return b
}

// listen запускає цикл читання Redis Pub/Sub і передає події локальним підписникам.
func (b *RedisBus) listen() {
	defer close(b.done)

	for msg := range b.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Error().Err(err).Str("channel", msg.Channel).Msg("error unmarshalling bus event")
			continue
		}
		if err := b.local.Publish(b.ctx, Group(msg.Channel), ev); err != nil {
			return
		}
	}

	// channel closed without Close: the subscription connection is gone
	if b.ctx.Err() == nil {
		logger.Error().Msg("redis pubsub channel closed")
		b.local.failAll(ErrBusFailed)
	}
}

func (b *RedisBus) Subscribe(ctx context.Context, group Group, h Handler) (Subscription, error) {
	sub, err := b.local.Subscribe(ctx, group, h)
	if err != nil {
		return nil, fmt.Errorf("redis subscribe %s: %w", group, err)
	}
	return sub, nil
}

func (b *RedisBus) Publish(ctx context.Context, group Group, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, string(group), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", group, err)
	}
	return nil
}

func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		_ = b.local.Close()
		err = b.ps.Close()
		<-b.done
	})
	return err
}
