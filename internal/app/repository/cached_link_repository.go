package repository

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sifan077/linkpay/internal/app/model"
)

// CodeInvalidator tells other instances that the link behind a short code changed.
type CodeInvalidator interface {
	InvalidateCode(ctx context.Context, code string) error
}

// cachedLinkRepository fronts GetByCode with a ristretto cache. Cached links may
// carry stale rollups; only resolution reads go through the cache.
type cachedLinkRepository struct {
	LinkRepository
	cache *ristretto.Cache
	ttl   time.Duration
	peers CodeInvalidator
}

// NewCachedLinkRepository decorates inner with a short-code cache. peers may be
// nil on a single instance; otherwise updates evict the code everywhere.
func NewCachedLinkRepository(inner LinkRepository, cache *ristretto.Cache, ttl time.Duration, peers CodeInvalidator) LinkRepository {
	if cache == nil {
		return inner
	}
	return &cachedLinkRepository{LinkRepository: inner, cache: cache, ttl: ttl, peers: peers}
}

func (r *cachedLinkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	if v, ok := r.cache.Get(code); ok {
		if link, ok := v.(model.Link); ok {
			return &link, nil
		}
	}

	link, err := r.LinkRepository.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	r.cache.SetWithTTL(code, *link, 1, r.ttl)
	return link, nil
}

func (r *cachedLinkRepository) Update(ctx context.Context, id string, patch model.LinkPatch) (*model.Link, error) {
	link, err := r.LinkRepository.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	r.cache.Del(link.ShortCode)
	if r.peers != nil {
		// The update is durable; peers that miss this still expire the entry after ttl.
		_ = r.peers.InvalidateCode(ctx, link.ShortCode)
	}
	return link, nil
}
