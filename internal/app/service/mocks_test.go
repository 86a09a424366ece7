package service

import (
	"context"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
)

// mockLinkRepository delegates to LinkRepository unless a function field overrides the call.
type mockLinkRepository struct {
	repository.LinkRepository
	createFn func(ctx context.Context, link *model.Link) error
	existsFn func(ctx context.Context, code string) (bool, error)
	getFn    func(ctx context.Context, id string) (*model.Link, error)
	incrFn   func(ctx context.Context, id string, delta model.RollupDelta) error
}

func (m *mockLinkRepository) Create(ctx context.Context, link *model.Link) error {
	if m.createFn != nil {
		return m.createFn(ctx, link)
	}
	return m.LinkRepository.Create(ctx, link)
}

func (m *mockLinkRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, code)
	}
	if m.LinkRepository == nil {
		return false, nil
	}
	return m.LinkRepository.ExistsByCode(ctx, code)
}

func (m *mockLinkRepository) GetByID(ctx context.Context, id string) (*model.Link, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return m.LinkRepository.GetByID(ctx, id)
}

func (m *mockLinkRepository) IncrementRollups(ctx context.Context, id string, delta model.RollupDelta) error {
	if m.incrFn != nil {
		return m.incrFn(ctx, id, delta)
	}
	return m.LinkRepository.IncrementRollups(ctx, id, delta)
}

type mockFacetRepository struct {
	repository.FacetRepository
	incrementFn func(ctx context.Context, linkID string, hits []model.FacetHit, at time.Time) error
}

func (m *mockFacetRepository) Increment(ctx context.Context, linkID string, hits []model.FacetHit, at time.Time) error {
	if m.incrementFn != nil {
		return m.incrementFn(ctx, linkID, hits, at)
	}
	return m.FacetRepository.Increment(ctx, linkID, hits, at)
}

type mockClickRepository struct {
	repository.ClickRepository
	appendFn func(ctx context.Context, click *model.Click) error
}

func (m *mockClickRepository) Append(ctx context.Context, click *model.Click) error {
	if m.appendFn != nil {
		return m.appendFn(ctx, click)
	}
	return m.ClickRepository.Append(ctx, click)
}

// fixedClock is a settable clock shared between a test and the code under test.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }

func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
