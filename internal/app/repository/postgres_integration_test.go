package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/linkpay/config"
	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
	infraPostgres "github.com/sifan077/linkpay/internal/infra/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

type pgEnv struct {
	db   *gorm.DB
	pool *pgxpool.Pool
}

func setupPostgres(t *testing.T) *pgEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("linkpay"),
		tcpostgres.WithUsername("linkpay"),
		tcpostgres.WithPassword("linkpay"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, infraPostgres.Migrate(dsn, nil))

	db, err := infraPostgres.OpenGorm(dsn, config.PostgresConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return &pgEnv{db: db, pool: pool}
}

func TestPostgres_Repositories(t *testing.T) {
	env := setupPostgres(t)
	ctx := context.Background()

	links := repository.NewLinkRepository(env.db)
	clicks := repository.NewClickRepository(env.db)
	facets := repository.NewFacetRepository(env.db)
	users := repository.NewUserStatsRepository(env.db)

	link := &model.Link{
		ShortCode:      "pgTest1",
		OwnerID:        "owner-1",
		DestinationURL: "https://example.com/page",
		Status:         model.LinkStatusActive,
		Tags:           []string{"spring", "promo"},
		PublisherRate:  80,
		PlatformRate:   20,
	}

	t.Run("create enforces unique short code", func(t *testing.T) {
		require.NoError(t, links.Create(ctx, link))
		assert.NotEmpty(t, link.ID)

		dup := &model.Link{ShortCode: "pgTest1", OwnerID: "owner-2", DestinationURL: "https://other.example", PublisherRate: 80, PlatformRate: 20}
		assert.ErrorIs(t, links.Create(ctx, dup), repository.ErrCodeTaken)

		got, err := links.GetByCode(ctx, "pgTest1")
		require.NoError(t, err)
		assert.Equal(t, []string{"spring", "promo"}, got.Tags)

		_, err = links.GetByID(ctx, "does-not-exist")
		assert.ErrorIs(t, err, repository.ErrLinkNotFound)
	})

	t.Run("update keeps rollups intact", func(t *testing.T) {
		require.NoError(t, links.IncrementRollups(ctx, link.ID, model.RollupDelta{Clicks: 2, Earnings: 10}))

		title := "Renamed"
		ads := false
		got, err := links.Update(ctx, link.ID, model.LinkPatch{Title: &title, AdsEnabled: &ads})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
		assert.False(t, got.Settings.AdsEnabled)
		assert.Equal(t, int64(2), got.Clicks)
	})

	t.Run("concurrent increments commute", func(t *testing.T) {
		const k = 40
		var wg sync.WaitGroup
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, links.IncrementRollups(ctx, link.ID, model.RollupDelta{Clicks: 1, Earnings: 1000, ClickedAt: time.Now()}))
				assert.NoError(t, facets.Increment(ctx, link.ID, []model.FacetHit{{Dimension: model.DimensionCountry, Value: "US", Earnings: 1000}}, time.Now()))
			}()
		}
		wg.Wait()

		got, err := links.GetByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(k+2), got.Clicks)

		buckets, err := facets.ListByLink(ctx, link.ID)
		require.NoError(t, err)
		require.Len(t, buckets, 1)
		assert.Equal(t, int64(k), buckets[0].Count)
		assert.Equal(t, int64(k*1000), buckets[0].Earnings)
	})

	t.Run("click log append and reconcile", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		for i, ip := range []string{"203.0.113.1", "203.0.113.1", "198.51.100.2"} {
			c := &model.Click{
				ID:        model.NewClickID(),
				LinkID:    link.ID,
				OwnerID:   link.OwnerID,
				Timestamp: now.Add(time.Duration(i) * time.Second),
				IP:        ip,
				Country:   "US",
				IsUnique:  i != 1,
				Earned:    1000,
			}
			require.NoError(t, clicks.Append(ctx, c))
			if i == 0 {
				assert.ErrorIs(t, clicks.Append(ctx, c), repository.ErrDuplicateClick)
			}
		}

		seen, err := clicks.ExistsInRange(ctx, link.ID, "203.0.113.1", now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, seen)

		var scanned []time.Time
		require.NoError(t, clicks.ScanSince(ctx, link.ID, now.Add(-time.Minute), func(c *model.Click) error {
			scanned = append(scanned, c.Timestamp)
			return nil
		}))
		require.Len(t, scanned, 3)
		assert.True(t, scanned[0].After(scanned[2]))

		require.NoError(t, repository.NewReconciler(env.pool).Reconcile(ctx, link.ID))

		got, err := links.GetByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Clicks)
		assert.Equal(t, int64(2), got.UniqueVisitors)
		assert.Equal(t, int64(3000), got.Earnings)

		buckets, err := facets.ListByLink(ctx, link.ID)
		require.NoError(t, err)
		var countries int64
		for _, b := range buckets {
			if b.Dimension == model.DimensionCountry {
				countries += b.Count
			}
		}
		assert.Equal(t, got.Clicks, countries)

		st, err := users.Get(ctx, link.OwnerID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), st.TotalClicks)
		assert.Equal(t, int64(2400), st.Balance)
	})

	t.Run("user stats upsert", func(t *testing.T) {
		require.NoError(t, users.Increment(ctx, "owner-9", model.UserStatsDelta{Links: 1}))
		require.NoError(t, users.Increment(ctx, "owner-9", model.UserStatsDelta{Clicks: 1, Earnings: 1000, Balance: 800}))

		st, err := users.Get(ctx, "owner-9")
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.TotalLinks)
		assert.Equal(t, int64(800), st.Balance)

		empty, err := users.Get(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, empty.TotalClicks)
	})
}
