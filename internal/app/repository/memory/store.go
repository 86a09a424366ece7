// Package memory implements the repository contracts in process memory. It backs
// tests and the single-node storage.driver=memory mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
)

type facetKey struct {
	dim   model.Dimension
	value string
}

// Store holds every table behind one lock.
type Store struct {
	mu       sync.RWMutex
	links    map[string]*model.Link
	codes    map[string]string
	clicks   map[string][]model.Click
	clickIDs map[string]struct{}
	facets   map[string]map[facetKey]*model.FacetBucket
	users    map[string]*model.UserStats
}

// New returns an empty store.
func New() *Store {
	return &Store{
		links:    make(map[string]*model.Link),
		codes:    make(map[string]string),
		clicks:   make(map[string][]model.Click),
		clickIDs: make(map[string]struct{}),
		facets:   make(map[string]map[facetKey]*model.FacetBucket),
		users:    make(map[string]*model.UserStats),
	}
}

func (s *Store) Links() repository.LinkRepository { return linkRepo{s} }
func (s *Store) Clicks() repository.ClickRepository { return clickRepo{s} }
func (s *Store) Facets() repository.FacetRepository { return facetRepo{s} }
func (s *Store) UserStats() repository.UserStatsRepository { return userStatsRepo{s} }
func (s *Store) Reconciler() repository.Reconciler { return reconciler{s} }

type linkRepo struct{ s *Store }

func (r linkRepo) Create(_ context.Context, link *model.Link) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.codes[link.ShortCode]; taken {
		return repository.ErrCodeTaken
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := time.Now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	if link.Status == "" {
		link.Status = model.LinkStatusActive
	}

	stored := cloneLink(link)
	r.s.links[link.ID] = stored
	r.s.codes[link.ShortCode] = link.ID
	return nil
}

func (r linkRepo) GetByCode(_ context.Context, code string) (*model.Link, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.codes[code]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	return cloneLink(r.s.links[id]), nil
}

func (r linkRepo) GetByID(_ context.Context, id string) (*model.Link, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	link, ok := r.s.links[id]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	return cloneLink(link), nil
}

func (r linkRepo) ExistsByCode(_ context.Context, code string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	_, ok := r.s.codes[code]
	return ok, nil
}

func (r linkRepo) List(_ context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	r.s.mu.RLock()
	owned := make([]model.Link, 0)
	for _, link := range r.s.links {
		if link.OwnerID == ownerID {
			owned = append(owned, *cloneLink(link))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	if offset >= len(owned) {
		return []model.Link{}, nil
	}
	end := offset + limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[offset:end], nil
}

func (r linkRepo) Update(_ context.Context, id string, patch model.LinkPatch) (*model.Link, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	link, ok := r.s.links[id]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	if !patch.IsEmpty() {
		patch.Apply(link)
		link.UpdatedAt = time.Now()
	}
	return cloneLink(link), nil
}

func (r linkRepo) IncrementRollups(_ context.Context, id string, delta model.RollupDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	link, ok := r.s.links[id]
	if !ok {
		return repository.ErrLinkNotFound
	}
	link.Clicks += delta.Clicks
	link.UniqueVisitors += delta.UniqueVisitors
	link.Earnings += delta.Earnings
	if !delta.ClickedAt.IsZero() && (link.LastClickedAt == nil || delta.ClickedAt.After(*link.LastClickedAt)) {
		t := delta.ClickedAt
		link.LastClickedAt = &t
	}
	return nil
}

func (r linkRepo) ScanCodes(_ context.Context, fn func(code string) error) error {
	r.s.mu.RLock()
	codes := make([]string, 0, len(r.s.codes))
	for code := range r.s.codes {
		codes = append(codes, code)
	}
	r.s.mu.RUnlock()

	for _, code := range codes {
		if err := fn(code); err != nil {
			return err
		}
	}
	return nil
}

type clickRepo struct{ s *Store }

func (r clickRepo) Append(_ context.Context, click *model.Click) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if click.ID == "" {
		click.ID = uuid.NewString()
	}
	if _, dup := r.s.clickIDs[click.ID]; dup {
		return repository.ErrDuplicateClick
	}
	if _, ok := r.s.links[click.LinkID]; !ok {
		return repository.ErrLinkNotFound
	}
	r.s.clickIDs[click.ID] = struct{}{}
	r.s.clicks[click.LinkID] = append(r.s.clicks[click.LinkID], *click)
	return nil
}

func (r clickRepo) ExistsInRange(_ context.Context, linkID, ip string, start, end time.Time) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, c := range r.s.clicks[linkID] {
		if c.IP == ip && !c.Timestamp.Before(start) && c.Timestamp.Before(end) {
			return true, nil
		}
	}
	return false, nil
}

func (r clickRepo) ScanSince(_ context.Context, linkID string, since time.Time, fn func(*model.Click) error) error {
	for _, c := range r.newestFirst(linkID, since) {
		c := c
		if err := fn(&c); err != nil {
			return err
		}
	}
	return nil
}

func (r clickRepo) Recent(_ context.Context, linkID string, limit int) ([]model.Click, error) {
	if limit <= 0 {
		limit = 100
	}
	out := r.newestFirst(linkID, time.Time{})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r clickRepo) newestFirst(linkID string, since time.Time) []model.Click {
	r.s.mu.RLock()
	out := make([]model.Click, 0, len(r.s.clicks[linkID]))
	for _, c := range r.s.clicks[linkID] {
		if since.IsZero() || !c.Timestamp.Before(since) {
			out = append(out, c)
		}
	}
	r.s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

type facetRepo struct{ s *Store }

func (r facetRepo) Increment(_ context.Context, linkID string, hits []model.FacetHit, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	buckets, ok := r.s.facets[linkID]
	if !ok {
		buckets = make(map[facetKey]*model.FacetBucket)
		r.s.facets[linkID] = buckets
	}
	for _, hit := range hits {
		key := facetKey{dim: hit.Dimension, value: hit.Value}
		b, ok := buckets[key]
		if !ok {
			b = &model.FacetBucket{
				LinkID:      linkID,
				Dimension:   hit.Dimension,
				Value:       hit.Value,
				FirstSeenAt: at,
				LastSeenAt:  at,
			}
			buckets[key] = b
		}
		b.Count++
		b.Earnings += hit.Earnings
		if at.Before(b.FirstSeenAt) {
			b.FirstSeenAt = at
		}
		if at.After(b.LastSeenAt) {
			b.LastSeenAt = at
		}
	}
	return nil
}

func (r facetRepo) ListByLink(_ context.Context, linkID string) ([]model.FacetBucket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.FacetBucket, 0, len(r.s.facets[linkID]))
	for _, b := range r.s.facets[linkID] {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

type userStatsRepo struct{ s *Store }

func (r userStatsRepo) Increment(_ context.Context, ownerID string, delta model.UserStatsDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, ok := r.s.users[ownerID]
	if !ok {
		st = &model.UserStats{OwnerID: ownerID}
		r.s.users[ownerID] = st
	}
	st.TotalLinks += delta.Links
	st.TotalClicks += delta.Clicks
	st.TotalEarnings += delta.Earnings
	st.Balance += delta.Balance
	st.UpdatedAt = time.Now()
	return nil
}

func (r userStatsRepo) Get(_ context.Context, ownerID string) (*model.UserStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.users[ownerID]
	if !ok {
		return &model.UserStats{OwnerID: ownerID}, nil
	}
	cp := *st
	return &cp, nil
}

type reconciler struct{ s *Store }

func (r reconciler) Reconcile(_ context.Context, linkID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	link, ok := r.s.links[linkID]
	if !ok {
		return repository.ErrLinkNotFound
	}

	totals := repository.NewTotals(linkID)
	for i := range r.s.clicks[linkID] {
		totals.Add(&r.s.clicks[linkID][i])
	}
	link.Clicks = totals.Clicks
	link.UniqueVisitors = totals.UniqueVisitors
	link.Earnings = totals.Earnings
	link.LastClickedAt = totals.LastClickedAt

	buckets := make(map[facetKey]*model.FacetBucket)
	for _, b := range totals.Buckets() {
		b := b
		buckets[facetKey{dim: b.Dimension, value: b.Value}] = &b
	}
	r.s.facets[linkID] = buckets

	st := &model.UserStats{OwnerID: link.OwnerID, UpdatedAt: time.Now()}
	for _, l := range r.s.links {
		if l.OwnerID != link.OwnerID {
			continue
		}
		st.TotalLinks++
		for _, c := range r.s.clicks[l.ID] {
			st.TotalClicks++
			st.TotalEarnings += c.Earned
			st.Balance += c.Earned * int64(l.PublisherRate) / 100
		}
	}
	r.s.users[link.OwnerID] = st
	return nil
}

func cloneLink(l *model.Link) *model.Link {
	cp := *l
	if l.Tags != nil {
		cp.Tags = append([]string(nil), l.Tags...)
	}
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		cp.ExpiresAt = &t
	}
	if l.LastClickedAt != nil {
		t := *l.LastClickedAt
		cp.LastClickedAt = &t
	}
	return &cp
}
