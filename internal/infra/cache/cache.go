package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/sifan077/linkpay/config"
)

const (
	defaultNumCounters = 100_000
	defaultMaxCost     = 10_000
	defaultBufferItems = 64
)

// New builds a ristretto cache sized from cfg. It returns nil when caching is disabled.
func New(cfg config.CacheConfig) (*ristretto.Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	numCounters := cfg.NumCounters
	if numCounters <= 0 {
		numCounters = defaultNumCounters
	}
	maxCost := cfg.MaxCost
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: defaultBufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create ristretto cache: %w", err)
	}
	return c, nil
}
