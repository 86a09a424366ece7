package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCustomCode(t *testing.T) {
	tests := []struct {
		code    string
		wantErr bool
	}{
		{"abc", false},
		{"summer-sale-2026", false},
		{"ab", true},
		{"has space", true},
		{"emoji😀", true},
		{"under_score", true},
		{"links", true},
		{"Health", true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := ValidateCustomCode(tt.code, 3, 64)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCustomCode)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCodeAllocator_Random(t *testing.T) {
	a := NewCodeAllocator(&mockLinkRepository{}, AllocatorConfig{}, nil)

	code, err := a.Allocate(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.Regexp(t, `^[0-9A-Za-z]{6}$`, code)
}

func TestCodeAllocator_CustomTaken(t *testing.T) {
	repo := &mockLinkRepository{
		existsFn: func(ctx context.Context, code string) (bool, error) { return code == "promo", nil },
	}
	a := NewCodeAllocator(repo, AllocatorConfig{}, nil)

	_, err := a.Allocate(context.Background(), "promo")
	assert.ErrorIs(t, err, ErrCodeTaken)

	code, err := a.Allocate(context.Background(), "promo2")
	require.NoError(t, err)
	assert.Equal(t, "promo2", code)
}

func TestCodeAllocator_ExhaustsAfterMaxAttempts(t *testing.T) {
	lookups := 0
	repo := &mockLinkRepository{
		existsFn: func(ctx context.Context, code string) (bool, error) {
			lookups++
			return true, nil
		},
	}
	a := NewCodeAllocator(repo, AllocatorConfig{MaxAttempts: 3}, nil)

	_, err := a.Allocate(context.Background(), "")
	assert.ErrorIs(t, err, ErrAllocationExhausted)
	assert.Equal(t, 3, lookups)
}

func TestCodeAllocator_StoreFailureIsExhaustion(t *testing.T) {
	storeErr := errors.New("connection refused")
	repo := &mockLinkRepository{
		existsFn: func(ctx context.Context, code string) (bool, error) { return false, storeErr },
	}
	a := NewCodeAllocator(repo, AllocatorConfig{}, nil)

	_, err := a.Allocate(context.Background(), "")
	assert.ErrorIs(t, err, ErrAllocationExhausted)
	assert.ErrorIs(t, err, storeErr)
}

func TestCodeAllocator_RetriesOnCollision(t *testing.T) {
	codes := []string{"aaaaaa", "bbbbbb"}
	repo := &mockLinkRepository{
		existsFn: func(ctx context.Context, code string) (bool, error) { return code == "aaaaaa", nil },
	}
	a := NewCodeAllocator(repo, AllocatorConfig{}, nil)
	a.generate = func(n int) (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	code, err := a.Allocate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb", code)
}

func TestCodeAllocator_BloomSkipsStoreForUnseenCodes(t *testing.T) {
	lookups := 0
	repo := &mockLinkRepository{
		existsFn: func(ctx context.Context, code string) (bool, error) {
			lookups++
			return code == "seen01", nil
		},
	}
	a := NewCodeAllocator(repo, AllocatorConfig{BloomCapacity: 1000, BloomFPRate: 0.0001}, nil)
	a.Remember("seen01")

	codes := []string{"seen01", "fresh1"}
	a.generate = func(n int) (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	code, err := a.Allocate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "fresh1", code)
	assert.Equal(t, 1, lookups, "only the filter hit should reach the store")
}

func TestRandomCode_Alphabet(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 1000; i++ {
		code, err := randomCode(8)
		require.NoError(t, err)
		require.Len(t, code, 8)
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}
