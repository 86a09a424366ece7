package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/sifan077/linkpay/config"
	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
	"github.com/sifan077/linkpay/internal/app/repository/memory"
	infraCache "github.com/sifan077/linkpay/internal/infra/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	codes []string
}

func (r *recordingInvalidator) InvalidateCode(_ context.Context, code string) error {
	r.codes = append(r.codes, code)
	return nil
}

func TestCachedLinkRepository(t *testing.T) {
	ctx := context.Background()
	c, err := infraCache.New(config.CacheConfig{Enabled: true})
	require.NoError(t, err)
	defer c.Close()

	inner := memory.New().Links()
	peers := &recordingInvalidator{}
	links := repository.NewCachedLinkRepository(inner, c, time.Minute, peers)

	link := &model.Link{ShortCode: "abc123", OwnerID: "u1", DestinationURL: "https://example.com/a"}
	require.NoError(t, links.Create(ctx, link))

	got, err := links.GetByCode(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", got.DestinationURL)
	c.Wait()

	// Writes that bypass the decorator are not visible until the entry is evicted.
	dest := "https://example.com/b"
	_, err = inner.Update(ctx, link.ID, model.LinkPatch{DestinationURL: &dest})
	require.NoError(t, err)
	got, err = links.GetByCode(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", got.DestinationURL)

	dest = "https://example.com/c"
	_, err = links.Update(ctx, link.ID, model.LinkPatch{DestinationURL: &dest})
	require.NoError(t, err)
	got, err = links.GetByCode(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/c", got.DestinationURL)
	assert.Equal(t, []string{"abc123"}, peers.codes)

	_, err = links.GetByCode(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

func TestCachedLinkRepository_NilCacheReturnsInner(t *testing.T) {
	inner := memory.New().Links()
	assert.Equal(t, inner, repository.NewCachedLinkRepository(inner, nil, time.Minute, nil))
}
