package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit",
	}
}

// RateLimit limits requests per client IP with a fixed window in Redis. When
// redisClient is nil or Redis fails, an in-process token bucket of the same
// rate takes over.
func RateLimit(redisClient *redis.Client, config RateLimitConfig, logger *zap.Logger) fiber.Handler {
	if config.MaxRequests <= 0 || config.Window <= 0 {
		config = DefaultRateLimitConfig()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "ratelimit"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	local := newLocalLimiter(config)
	limit := strconv.Itoa(config.MaxRequests)

	return func(c *fiber.Ctx) error {
		ip := utils.CopyString(c.IP())
		c.Set("X-RateLimit-Limit", limit)

		if redisClient != nil {
			count, err := windowCount(c, redisClient, config.KeyPrefix+":"+ip, config.Window)
			if err == nil {
				c.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, config.MaxRequests-int(count))))
				c.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(config.Window).Unix(), 10))
				if count > int64(config.MaxRequests) {
					return tooManyRequests(c, config.Window)
				}
				return c.Next()
			}
			logger.Warn("rate limit redis error, using local limiter", zap.Error(err))
		}

		if !local.allow(ip, time.Now()) {
			return tooManyRequests(c, config.Window)
		}
		return c.Next()
	}
}

func windowCount(c *fiber.Ctx, rdb *redis.Client, key string, window time.Duration) (int64, error) {
	ctx := c.UserContext()
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

func tooManyRequests(c *fiber.Ctx, window time.Duration) error {
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window.Seconds())))
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": "rate limit exceeded",
	})
}

const localLimiterPruneAt = 10_000

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

type localLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

func newLocalLimiter(cfg RateLimitConfig) *localLimiter {
	return &localLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(cfg.Window / time.Duration(cfg.MaxRequests)),
		burst:    cfg.MaxRequests,
		idle:     cfg.Window,
	}
}

func (l *localLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= localLimiterPruneAt {
			l.prune(now)
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.seen = now
	return v.limiter.AllowN(now, 1)
}

// prune drops visitors idle long enough for their bucket to have refilled.
func (l *localLimiter) prune(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.seen) > l.idle {
			delete(l.visitors, key)
		}
	}
}
