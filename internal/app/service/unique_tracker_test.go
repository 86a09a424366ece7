package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestParseUniqueWindow(t *testing.T) {
	w, err := ParseUniqueWindow("day", "Asia/Tokyo")
	require.NoError(t, err)

	// 2026-01-01 20:00 UTC is already 2 January in Tokyo.
	at := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	start, end := w.Bounds(at)
	assert.Equal(t, "2026-01-02", w.Day(at))
	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.Equal(t, time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC), start.UTC())

	rolling, err := ParseUniqueWindow("12h", "")
	require.NoError(t, err)
	start, _ = rolling.Bounds(at)
	assert.Equal(t, at.Add(-12*time.Hour), start)

	_, err = ParseUniqueWindow("fortnight", "")
	assert.Error(t, err)
	_, err = ParseUniqueWindow("day", "Mars/Olympus")
	assert.Error(t, err)
}

func TestRedisUniqueTracker_CalendarDay(t *testing.T) {
	_, rdb := newMiniRedis(t)
	tracker := NewRedisUniqueTracker(rdb, DailyWindow(), nil, nil)
	ctx := context.Background()
	day1 := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)

	first, err := tracker.FirstVisit(ctx, "link-1", "203.0.113.5", day1)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := tracker.FirstVisit(ctx, "link-1", "203.0.113.5", day1.Add(10*time.Hour))
	require.NoError(t, err)
	assert.False(t, again)

	otherLink, err := tracker.FirstVisit(ctx, "link-2", "203.0.113.5", day1)
	require.NoError(t, err)
	assert.True(t, otherLink)

	nextDay, err := tracker.FirstVisit(ctx, "link-1", "203.0.113.5", day1.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, nextDay)
}

func TestRedisUniqueTracker_ConcurrentBurstHasOneWinner(t *testing.T) {
	_, rdb := newMiniRedis(t)
	tracker := NewRedisUniqueTracker(rdb, DailyWindow(), nil, nil)
	at := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := tracker.FirstVisit(context.Background(), "link-1", "203.0.113.5", at)
			assert.NoError(t, err)
			if first {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestRedisUniqueTracker_RollingWindow(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	w, err := ParseUniqueWindow("1h", "")
	require.NoError(t, err)
	tracker := NewRedisUniqueTracker(rdb, w, nil, nil)
	ctx := context.Background()
	now := time.Now()

	first, err := tracker.FirstVisit(ctx, "link-1", "203.0.113.5", now)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := tracker.FirstVisit(ctx, "link-1", "203.0.113.5", now)
	require.NoError(t, err)
	assert.False(t, again)

	mr.FastForward(61 * time.Minute)
	later, err := tracker.FirstVisit(ctx, "link-1", "203.0.113.5", now)
	require.NoError(t, err)
	assert.True(t, later)
}

func TestRedisUniqueTracker_FallsBackToClickLog(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	store := memory.New()
	ctx := context.Background()

	link := &model.Link{ShortCode: "abc123", OwnerID: "owner-1"}
	require.NoError(t, store.Links().Create(ctx, link))
	at := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Clicks().Append(ctx, &model.Click{LinkID: link.ID, IP: "203.0.113.5", Timestamp: at}))

	tracker := NewRedisUniqueTracker(rdb, DailyWindow(), NewStoreUniqueTracker(store.Clicks(), DailyWindow()), nil)
	mr.Close()

	first, err := tracker.FirstVisit(ctx, link.ID, "203.0.113.5", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, first)

	other, err := tracker.FirstVisit(ctx, link.ID, "198.51.100.1", at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, other)
}

func TestRedisReconcileQueue(t *testing.T) {
	_, rdb := newMiniRedis(t)
	q := NewRedisReconcileQueue(rdb)
	ctx := context.Background()

	require.NoError(t, q.MarkPending(ctx, "link-1"))
	require.NoError(t, q.MarkPending(ctx, "link-1"))
	require.NoError(t, q.MarkPending(ctx, "link-2"))

	ids, err := q.PopPending(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"link-1", "link-2"}, ids)

	ids, err = q.PopPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisUniqueTracker_Forget(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rolling, err := ParseUniqueWindow("6h", "")
	require.NoError(t, err)

	for name, window := range map[string]UniqueWindow{"day": DailyWindow(), "rolling": rolling} {
		t.Run(name, func(t *testing.T) {
			_, rdb := newMiniRedis(t)
			tracker := NewRedisUniqueTracker(rdb, window, nil, nil)

			first, err := tracker.FirstVisit(ctx, "link-1", "203.0.113.5", at)
			require.NoError(t, err)
			require.True(t, first)

			require.NoError(t, tracker.Forget(ctx, "link-1", "203.0.113.5", at))

			again, err := tracker.FirstVisit(ctx, "link-1", "203.0.113.5", at)
			require.NoError(t, err)
			assert.True(t, again)
		})
	}
}
