package memory

import (
	"context"
	"testing"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinks_CreateRejectsDuplicateCode(t *testing.T) {
	ctx := context.Background()
	links := New().Links()

	require.NoError(t, links.Create(ctx, &model.Link{ShortCode: "abc123", OwnerID: "u1"}))
	err := links.Create(ctx, &model.Link{ShortCode: "abc123", OwnerID: "u2"})
	assert.ErrorIs(t, err, repository.ErrCodeTaken)

	got, err := links.GetByCode(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.OwnerID)
}

func TestClicks_AppendIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	s := New()
	link := &model.Link{ShortCode: "abc123", OwnerID: "u1"}
	require.NoError(t, s.Links().Create(ctx, link))

	click := &model.Click{ID: "c1", LinkID: link.ID, Timestamp: time.Now()}
	require.NoError(t, s.Clicks().Append(ctx, click))
	assert.ErrorIs(t, s.Clicks().Append(ctx, click), repository.ErrDuplicateClick)

	recent, err := s.Clicks().Recent(ctx, link.ID, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestReconciler_RebuildsFromLog(t *testing.T) {
	ctx := context.Background()
	s := New()
	link := &model.Link{ShortCode: "abc123", OwnerID: "u1", PublisherRate: 80}
	require.NoError(t, s.Links().Create(ctx, link))

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Clicks().Append(ctx, &model.Click{
			LinkID:    link.ID,
			OwnerID:   "u1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			IP:        "203.0.113.7",
			Country:   "US",
			IsUnique:  i == 0,
			Earned:    1000,
		}))
	}

	require.NoError(t, s.Reconciler().Reconcile(ctx, link.ID))

	got, err := s.Links().GetByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Clicks)
	assert.Equal(t, int64(1), got.UniqueVisitors)
	assert.Equal(t, int64(3000), got.Earnings)
	require.NotNil(t, got.LastClickedAt)
	assert.True(t, got.LastClickedAt.Equal(base.Add(2*time.Minute)))

	buckets, err := s.Facets().ListByLink(ctx, link.ID)
	require.NoError(t, err)
	var countrySum int64
	for _, b := range buckets {
		if b.Dimension == model.DimensionCountry {
			countrySum += b.Count
		}
	}
	assert.Equal(t, int64(3), countrySum)

	st, err := s.UserStats().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalLinks)
	assert.Equal(t, int64(3), st.TotalClicks)
	assert.Equal(t, int64(2400), st.Balance)

	assert.ErrorIs(t, s.Reconciler().Reconcile(ctx, "missing"), repository.ErrLinkNotFound)
}
