package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
	"github.com/sifan077/linkpay/internal/app/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBaseRate = int64(1000)
	chromeUA     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type recorderFixture struct {
	store    *memory.Store
	clock    *fixedClock
	pending  ReconcileQueue
	recorder *ClickRecorder
	link     *model.Link
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	t.Helper()

	f := &recorderFixture{
		store:   memory.New(),
		clock:   &fixedClock{t: time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)},
		pending: NewMemoryReconcileQueue(),
	}

	f.link = &model.Link{
		ShortCode:      "abc123",
		OwnerID:        "owner-1",
		DestinationURL: "https://example.com/page",
		Status:         model.LinkStatusActive,
		PublisherRate:  80,
		PlatformRate:   20,
	}
	require.NoError(t, f.store.Links().Create(context.Background(), f.link))

	f.recorder = f.newRecorder(f.store.Links(), f.store.Clicks(), f.store.Facets())
	return f
}

func (f *recorderFixture) newRecorder(links repository.LinkRepository, clicks repository.ClickRepository, facets repository.FacetRepository) *ClickRecorder {
	return NewClickRecorder(RecorderDeps{
		Links:      links,
		Clicks:     clicks,
		Facets:     facets,
		UserStats:  f.store.UserStats(),
		Classifier: NewClassifier(nil, ClassifierConfig{BaseRateMicros: testBaseRate}, nil),
		Unique:     NewStoreUniqueTracker(clicks, DailyWindow()),
		Pending:    f.pending,
		Now:        f.clock.Now,
	})
}

func (f *recorderFixture) click(ip string) model.ClickInput {
	return model.ClickInput{LinkID: f.link.ID, IP: ip, UserAgent: chromeUA, Referer: "https://news.example/post"}
}

func (f *recorderFixture) reload(t *testing.T) *model.Link {
	t.Helper()
	link, err := f.store.Links().GetByID(context.Background(), f.link.ID)
	require.NoError(t, err)
	return link
}

func (f *recorderFixture) clickCount(t *testing.T) int {
	t.Helper()
	recent, err := f.store.Clicks().Recent(context.Background(), f.link.ID, 1000)
	require.NoError(t, err)
	return len(recent)
}

func (f *recorderFixture) facetSum(t *testing.T, dim model.Dimension) int64 {
	t.Helper()
	buckets, err := f.store.Facets().ListByLink(context.Background(), f.link.ID)
	require.NoError(t, err)
	var sum int64
	for _, b := range buckets {
		if b.Dimension == dim {
			sum += b.Count
		}
	}
	return sum
}

func TestRecordClick_UnknownLinkWritesNothing(t *testing.T) {
	f := newRecorderFixture(t)

	res, err := f.recorder.RecordClick(context.Background(), model.ClickInput{LinkID: "missing", IP: "203.0.113.9"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrLinkNotFound)
	assert.Zero(t, f.clickCount(t))
}

func TestRecordClick_ExpiredLinkWritesNothing(t *testing.T) {
	f := newRecorderFixture(t)
	past := f.clock.t.Add(-time.Minute)
	_, err := f.store.Links().Update(context.Background(), f.link.ID, model.LinkPatch{ExpiresAt: &past})
	require.NoError(t, err)

	_, err = f.recorder.RecordClick(context.Background(), f.click("203.0.113.9"))
	assert.ErrorIs(t, err, ErrLinkExpired)
	assert.Zero(t, f.clickCount(t))
	assert.Zero(t, f.reload(t).Clicks)
}

func TestRecordClick_ConcurrentClicksCommute(t *testing.T) {
	f := newRecorderFixture(t)

	const k = 100
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.recorder.RecordClick(context.Background(), f.click(fmt.Sprintf("198.51.100.%d", i%7)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	link := f.reload(t)
	assert.Equal(t, int64(k), link.Clicks)
	assert.Equal(t, int64(k)*testBaseRate, link.Earnings)
	assert.GreaterOrEqual(t, link.UniqueVisitors, int64(7))
	assert.Equal(t, link.Clicks, f.facetSum(t, model.DimensionCountry))
	assert.Equal(t, link.Clicks, f.facetSum(t, model.DimensionBrowser))

	stats, err := f.store.UserStats().Get(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(k), stats.TotalClicks)
	assert.Equal(t, int64(k)*testBaseRate*80/100, stats.Balance)
}

func TestRecordClick_UniquenessWindow(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	first, err := f.recorder.RecordClick(ctx, f.click("203.0.113.1"))
	require.NoError(t, err)
	assert.True(t, first.IsUnique)

	f.clock.Advance(3 * time.Hour)
	second, err := f.recorder.RecordClick(ctx, f.click("203.0.113.1"))
	require.NoError(t, err)
	assert.False(t, second.IsUnique)

	f.clock.Advance(24 * time.Hour)
	nextDay, err := f.recorder.RecordClick(ctx, f.click("203.0.113.1"))
	require.NoError(t, err)
	assert.True(t, nextDay.IsUnique)

	assert.Equal(t, int64(2), f.reload(t).UniqueVisitors)
}

func TestRecordClick_DuplicateEventIsRejected(t *testing.T) {
	f := newRecorderFixture(t)
	in := f.click("203.0.113.1")
	in.EventID = "evt-1"

	_, err := f.recorder.RecordClick(context.Background(), in)
	require.NoError(t, err)
	_, err = f.recorder.RecordClick(context.Background(), in)
	assert.ErrorIs(t, err, repository.ErrDuplicateClick)
	assert.Equal(t, int64(1), f.reload(t).Clicks)
}

func TestRecordClick_AppendFailureSkipsAggregates(t *testing.T) {
	f := newRecorderFixture(t)
	clicks := &mockClickRepository{
		ClickRepository: f.store.Clicks(),
		appendFn: func(ctx context.Context, click *model.Click) error {
			return errors.New("disk full")
		},
	}
	rec := f.newRecorder(f.store.Links(), clicks, f.store.Facets())

	_, err := rec.RecordClick(context.Background(), f.click("203.0.113.1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAggregatePartial)
	assert.Zero(t, f.reload(t).Clicks)
}

func TestRecordClick_FailedAppendKeepsVisitorUnique(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	_, rdb := newMiniRedis(t)

	var attempts int
	clicks := &mockClickRepository{
		ClickRepository: f.store.Clicks(),
		appendFn: func(c context.Context, click *model.Click) error {
			attempts++
			if attempts == 1 {
				return errors.New("db down")
			}
			return f.store.Clicks().Append(c, click)
		},
	}
	rec := NewClickRecorder(RecorderDeps{
		Links:      f.store.Links(),
		Clicks:     clicks,
		Facets:     f.store.Facets(),
		UserStats:  f.store.UserStats(),
		Classifier: NewClassifier(nil, ClassifierConfig{BaseRateMicros: testBaseRate}, nil),
		Unique:     NewRedisUniqueTracker(rdb, DailyWindow(), nil, nil),
		Pending:    f.pending,
		Now:        f.clock.Now,
	})

	in := f.click("203.0.113.1")
	in.EventID = "evt-1"
	_, err := rec.RecordClick(ctx, in)
	require.Error(t, err)

	res, err := rec.RecordClick(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.IsUnique)
	assert.Equal(t, int64(1), f.reload(t).UniqueVisitors)
}

func TestRecordClick_RedeliveredEventQueuesReconcile(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	// The event reached the log but the process died before the aggregates.
	require.NoError(t, f.store.Clicks().Append(ctx, &model.Click{
		ID:        "evt-2",
		LinkID:    f.link.ID,
		OwnerID:   f.link.OwnerID,
		Timestamp: f.clock.t,
		IP:        "203.0.113.1",
		IsUnique:  true,
		Earned:    testBaseRate,
	}))

	in := f.click("203.0.113.1")
	in.EventID = "evt-2"
	_, err := f.recorder.RecordClick(ctx, in)
	require.ErrorIs(t, err, repository.ErrDuplicateClick)
	assert.Zero(t, f.reload(t).Clicks)

	worker := NewReconcileWorker(nil, f.pending, f.store.Reconciler(), time.Minute, 10)
	assert.Equal(t, 1, worker.Drain(ctx))

	link := f.reload(t)
	assert.Equal(t, int64(1), link.Clicks)
	assert.Equal(t, int64(1), link.UniqueVisitors)
	assert.Equal(t, testBaseRate, link.Earnings)
}

func TestRecordClick_PartialAggregateFailureIsRecoverable(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	facets := &mockFacetRepository{
		FacetRepository: f.store.Facets(),
		incrementFn: func(ctx context.Context, linkID string, hits []model.FacetHit, at time.Time) error {
			return errors.New("timeout")
		},
	}
	rec := f.newRecorder(f.store.Links(), f.store.Clicks(), facets)

	res, err := rec.RecordClick(ctx, f.click("203.0.113.1"))
	require.ErrorIs(t, err, ErrAggregatePartial)
	require.NotNil(t, res)
	assert.Equal(t, testBaseRate, res.Earned)

	assert.Equal(t, 1, f.clickCount(t))
	assert.Equal(t, int64(1), f.reload(t).Clicks)
	assert.Zero(t, f.facetSum(t, model.DimensionCountry))

	worker := NewReconcileWorker(nil, f.pending, f.store.Reconciler(), time.Minute, 10)
	assert.Equal(t, 1, worker.Drain(ctx))

	assert.Equal(t, f.reload(t).Clicks, f.facetSum(t, model.DimensionCountry))
	ids, err := f.pending.PopPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRecordClick_CancelledAfterAppendStillAggregates(t *testing.T) {
	f := newRecorderFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	clicks := &mockClickRepository{
		ClickRepository: f.store.Clicks(),
		appendFn: func(c context.Context, click *model.Click) error {
			err := f.store.Clicks().Append(c, click)
			cancel()
			return err
		},
	}
	links := &mockLinkRepository{
		LinkRepository: f.store.Links(),
		incrFn: func(c context.Context, id string, delta model.RollupDelta) error {
			if c.Err() != nil {
				return c.Err()
			}
			return f.store.Links().IncrementRollups(c, id, delta)
		},
	}
	rec := f.newRecorder(links, clicks, f.store.Facets())

	_, err := rec.RecordClick(ctx, f.click("203.0.113.1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.reload(t).Clicks)
}
