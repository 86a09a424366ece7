package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const linkInvalidationChannel = "linkpay:links:invalidate"

// CodeBus broadcasts short-code cache invalidations to every instance.
type CodeBus struct {
	rdb *redis.Client
}

func NewCodeBus(rdb *redis.Client) *CodeBus {
	return &CodeBus{rdb: rdb}
}

// InvalidateCode publishes code to all listeners, including this instance.
func (b *CodeBus) InvalidateCode(ctx context.Context, code string) error {
	if err := b.rdb.Publish(ctx, linkInvalidationChannel, code).Err(); err != nil {
		return fmt.Errorf("redis: publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes and calls evict for each published code until ctx is done.
// It returns once the subscription is confirmed.
func (b *CodeBus) Listen(ctx context.Context, evict func(code string)) error {
	sub := b.rdb.Subscribe(ctx, linkInvalidationChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis: subscribe %s: %w", linkInvalidationChannel, err)
	}

	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				evict(msg.Payload)
			}
		}
	}()
	return nil
}
