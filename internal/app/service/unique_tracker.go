package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sifan077/linkpay/internal/app/repository"
	"go.uber.org/zap"
)

// UniqueWindow decides which earlier clicks make a visit non-unique: either the
// calendar day containing the click in a fixed location, or a rolling duration.
type UniqueWindow struct {
	loc     *time.Location
	rolling time.Duration
}

// ParseUniqueWindow accepts "day" or a Go duration such as "24h". tz names the
// location of calendar days and defaults to UTC.
func ParseUniqueWindow(raw, tz string) (UniqueWindow, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return UniqueWindow{}, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}

	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "day" {
		return UniqueWindow{loc: loc}, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return UniqueWindow{}, fmt.Errorf("unique window %q: want \"day\" or a positive duration", raw)
	}
	return UniqueWindow{loc: loc, rolling: d}, nil
}

// DailyWindow is the calendar-day window in UTC.
func DailyWindow() UniqueWindow {
	return UniqueWindow{loc: time.UTC}
}

// Bounds returns the half-open range [start, end) checked for prior clicks at.
func (w UniqueWindow) Bounds(at time.Time) (time.Time, time.Time) {
	if w.rolling > 0 {
		return at.Add(-w.rolling), at.Add(time.Nanosecond)
	}
	local := at.In(w.Location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Location())
	return start, start.AddDate(0, 0, 1)
}

// Day formats the calendar day containing at.
func (w UniqueWindow) Day(at time.Time) string {
	return at.In(w.Location()).Format(time.DateOnly)
}

// Location is where calendar days start and end.
func (w UniqueWindow) Location() *time.Location {
	if w.loc == nil {
		return time.UTC
	}
	return w.loc
}

// UniqueTracker decides whether a visit is the first from its address in the window.
type UniqueTracker interface {
	FirstVisit(ctx context.Context, linkID, ip string, at time.Time) (bool, error)
	// Forget withdraws a FirstVisit that returned true for a click that was never appended.
	Forget(ctx context.Context, linkID, ip string, at time.Time) error
}

type storeUniqueTracker struct {
	clicks repository.ClickRepository
	window UniqueWindow
}

// NewStoreUniqueTracker answers from the click log. Concurrent first visits from
// one address may both count as unique.
func NewStoreUniqueTracker(clicks repository.ClickRepository, window UniqueWindow) UniqueTracker {
	return &storeUniqueTracker{clicks: clicks, window: window}
}

func (t *storeUniqueTracker) FirstVisit(ctx context.Context, linkID, ip string, at time.Time) (bool, error) {
	start, end := t.window.Bounds(at)
	seen, err := t.clicks.ExistsInRange(ctx, linkID, ip, start, end)
	if err != nil {
		return false, fmt.Errorf("check prior click: %w", err)
	}
	return !seen, nil
}

// Forget is a no-op: the click log only holds appended clicks.
func (t *storeUniqueTracker) Forget(context.Context, string, string, time.Time) error {
	return nil
}

const uniqueKeyGrace = time.Hour

type redisUniqueTracker struct {
	rdb      *redis.Client
	window   UniqueWindow
	fallback UniqueTracker
	logger   *zap.Logger
}

// NewRedisUniqueTracker marks visitors in Redis sets keyed by link and day, so
// exactly one of a burst of concurrent visits wins. fallback answers when Redis fails.
func NewRedisUniqueTracker(rdb *redis.Client, window UniqueWindow, fallback UniqueTracker, logger *zap.Logger) UniqueTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisUniqueTracker{rdb: rdb, window: window, fallback: fallback, logger: logger}
}

func (t *redisUniqueTracker) FirstVisit(ctx context.Context, linkID, ip string, at time.Time) (bool, error) {
	first, err := t.mark(ctx, linkID, ip, at)
	if err == nil {
		return first, nil
	}
	if t.fallback == nil {
		return false, fmt.Errorf("redis unique check: %w", err)
	}
	t.logger.Warn("redis unique check failed, using click log", zap.String("link_id", linkID), zap.Error(err))
	return t.fallback.FirstVisit(ctx, linkID, ip, at)
}

func (t *redisUniqueTracker) Forget(ctx context.Context, linkID, ip string, at time.Time) error {
	var err error
	if t.window.rolling > 0 {
		err = t.rdb.Del(ctx, fmt.Sprintf("unique:%s:%s", linkID, ip)).Err()
	} else {
		err = t.rdb.SRem(ctx, fmt.Sprintf("unique:%s:%s", linkID, t.window.Day(at)), ip).Err()
	}
	if err != nil {
		return fmt.Errorf("redis unique forget: %w", err)
	}
	return nil
}

func (t *redisUniqueTracker) mark(ctx context.Context, linkID, ip string, at time.Time) (bool, error) {
	if t.window.rolling > 0 {
		return t.rdb.SetNX(ctx, fmt.Sprintf("unique:%s:%s", linkID, ip), 1, t.window.rolling).Result()
	}

	_, end := t.window.Bounds(at)
	ttl := time.Until(end) + uniqueKeyGrace
	if ttl < uniqueKeyGrace {
		ttl = uniqueKeyGrace
	}

	key := fmt.Sprintf("unique:%s:%s", linkID, t.window.Day(at))
	pipe := t.rdb.TxPipeline()
	added := pipe.SAdd(ctx, key, ip)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return added.Val() == 1, nil
}
