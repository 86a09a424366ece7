package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sifan077/linkpay/internal/app/repository"
	"github.com/sifan077/linkpay/internal/infra/prometheus"
	"go.uber.org/zap"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// reservedCodes collide with routes served at the root.
var reservedCodes = map[string]struct{}{
	"api":     {},
	"health":  {},
	"links":   {},
	"metrics": {},
	"users":   {},
	"admin":   {},
	"static":  {},
	"login":   {},
	"logout":  {},
}

// AllocatorConfig tunes short code generation.
type AllocatorConfig struct {
	CodeLength      int
	MaxAttempts     int
	CustomMinLength int
	CustomMaxLength int
	// BloomCapacity enables the in-process filter when positive.
	BloomCapacity uint
	BloomFPRate   float64
}

func (c *AllocatorConfig) withDefaults() {
	if c.CodeLength <= 0 {
		c.CodeLength = 6
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.CustomMinLength <= 0 {
		c.CustomMinLength = 3
	}
	if c.CustomMaxLength <= 0 {
		c.CustomMaxLength = 64
	}
	if c.BloomFPRate <= 0 {
		c.BloomFPRate = 0.001
	}
}

// CodeAllocator hands out short codes that are not yet assigned. It does not
// reserve them; the link store's unique index rejects a racing writer.
type CodeAllocator struct {
	links  repository.LinkRepository
	cfg    AllocatorConfig
	logger *zap.Logger

	mu     sync.Mutex
	filter *bloom.BloomFilter

	generate func(n int) (string, error)
}

// NewCodeAllocator returns an allocator checking candidates against links.
func NewCodeAllocator(links repository.LinkRepository, cfg AllocatorConfig, logger *zap.Logger) *CodeAllocator {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &CodeAllocator{
		links:    links,
		cfg:      cfg,
		logger:   logger,
		generate: randomCode,
	}
	if cfg.BloomCapacity > 0 {
		a.filter = bloom.NewWithEstimates(cfg.BloomCapacity, cfg.BloomFPRate)
	}
	return a
}

// Allocate returns customCode after validating it, or a fresh random code when customCode is empty.
func (a *CodeAllocator) Allocate(ctx context.Context, customCode string) (string, error) {
	if customCode != "" {
		return a.allocateCustom(ctx, customCode)
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		code, err := a.generate(a.cfg.CodeLength)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}

		if a.provablyUnused(code) {
			prometheus.CodeAllocations.WithLabelValues("bloom_miss").Inc()
			return code, nil
		}

		exists, err := a.links.ExistsByCode(ctx, code)
		if err != nil {
			lastErr = err
			a.logger.Warn("short code lookup failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if !exists {
			prometheus.CodeAllocations.WithLabelValues("allocated").Inc()
			return code, nil
		}

		prometheus.CodeAllocations.WithLabelValues("collision").Inc()
		a.logger.Debug("short code collision", zap.String("code", code), zap.Int("attempt", attempt))
	}

	prometheus.CodeAllocations.WithLabelValues("exhausted").Inc()
	if lastErr != nil {
		return "", fmt.Errorf("%w: %w", ErrAllocationExhausted, lastErr)
	}
	return "", ErrAllocationExhausted
}

func (a *CodeAllocator) allocateCustom(ctx context.Context, code string) (string, error) {
	if err := ValidateCustomCode(code, a.cfg.CustomMinLength, a.cfg.CustomMaxLength); err != nil {
		return "", err
	}

	exists, err := a.links.ExistsByCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("check custom code: %w", err)
	}
	if exists {
		return "", ErrCodeTaken
	}
	return code, nil
}

// Remember records an assigned code in the filter.
func (a *CodeAllocator) Remember(code string) {
	if a.filter == nil {
		return
	}
	a.mu.Lock()
	a.filter.AddString(code)
	a.mu.Unlock()
}

// Seed loads every stored code into the filter and returns how many were added.
func (a *CodeAllocator) Seed(ctx context.Context) (int, error) {
	if a.filter == nil {
		return 0, nil
	}

	n := 0
	err := a.links.ScanCodes(ctx, func(code string) error {
		a.Remember(code)
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("seed code filter: %w", err)
	}
	return n, nil
}

func (a *CodeAllocator) provablyUnused(code string) bool {
	if a.filter == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.filter.TestString(code)
}

// ValidateCustomCode checks length, charset and reserved words.
func ValidateCustomCode(code string, minLen, maxLen int) error {
	if len(code) < minLen || len(code) > maxLen {
		return fmt.Errorf("%w: length must be between %d and %d", ErrInvalidCustomCode, minLen, maxLen)
	}
	for _, r := range code {
		if !isAlnum(r) && r != '-' {
			return fmt.Errorf("%w: only letters, digits and hyphens are allowed", ErrInvalidCustomCode)
		}
	}
	if _, reserved := reservedCodes[strings.ToLower(code)]; reserved {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidCustomCode, code)
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// randomCode draws n base62 characters from crypto/rand without modulo bias.
func randomCode(n int) (string, error) {
	const limit = 256 - 256%len(base62Alphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, base62Alphabet[int(b)%len(base62Alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
