package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeBus(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newBus := func() *CodeBus {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return NewCodeBus(rdb)
	}
	local, remote := newBus(), newBus()

	evicted := make(chan string, 1)
	require.NoError(t, remote.Listen(ctx, func(code string) { evicted <- code }))

	require.NoError(t, local.InvalidateCode(ctx, "abc123"))

	select {
	case code := <-evicted:
		assert.Equal(t, "abc123", code)
	case <-time.After(2 * time.Second):
		t.Fatal("invalidation not delivered")
	}
}
