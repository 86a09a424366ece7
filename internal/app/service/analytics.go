package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
	"github.com/sifan077/linkpay/internal/infra/prometheus"
	"go.uber.org/zap"
)

const defaultRecentLimit = 100

// AnalyticsDeps groups dependencies required by the analytics reader.
type AnalyticsDeps struct {
	Logger      *zap.Logger
	Links       repository.LinkRepository
	Clicks      repository.ClickRepository
	Facets      repository.FacetRepository
	RecentLimit int
	// Location buckets clicksByDate; UTC when nil.
	Location *time.Location
	Now      func() time.Time
}

// AnalyticsReader is the analytics read path.
type AnalyticsReader struct {
	logger      *zap.Logger
	links       repository.LinkRepository
	clicks      repository.ClickRepository
	facets      repository.FacetRepository
	recentLimit int
	loc         *time.Location
	now         func() time.Time
}

// NewAnalyticsReader creates a reader with the provided dependencies.
func NewAnalyticsReader(deps AnalyticsDeps) *AnalyticsReader {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := deps.RecentLimit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &AnalyticsReader{
		logger:      logger,
		links:       deps.Links,
		clicks:      deps.Clicks,
		facets:      deps.Facets,
		recentLimit: limit,
		loc:         loc,
		now:         now,
	}
}

// GetStats builds the report for linkID. PeriodAll reads the stored rollups;
// bounded periods rescan the click log for the trailing window.
func (a *AnalyticsReader) GetStats(ctx context.Context, linkID string, period model.Period) (*model.StatsReport, error) {
	start := time.Now()
	defer func() {
		prometheus.AnalyticsDuration.WithLabelValues(string(period)).Observe(time.Since(start).Seconds())
	}()

	link, err := a.links.GetByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("load link: %w", err)
	}

	if period == model.PeriodAll {
		return a.allTime(ctx, link)
	}
	if period.Span() == 0 {
		return nil, ErrInvalidPeriod
	}
	return a.windowed(ctx, link, period)
}

func (a *AnalyticsReader) allTime(ctx context.Context, link *model.Link) (*model.StatsReport, error) {
	report := model.NewStatsReport(link.ID, model.PeriodAll, a.now())
	report.TotalClicks = link.Clicks
	report.TotalEarnings = link.Earnings
	report.UniqueVisitors = link.UniqueVisitors

	buckets, err := a.facets.ListByLink(ctx, link.ID)
	if err != nil {
		return nil, fmt.Errorf("list facets: %w", err)
	}
	for _, b := range buckets {
		if m := report.Breakdown(b.Dimension); m != nil {
			m[b.Value] += b.Count
		}
	}

	recent, err := a.clicks.Recent(ctx, link.ID, a.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent clicks: %w", err)
	}
	if len(recent) > 0 {
		report.RecentClicks = recent
	}
	return report, nil
}

func (a *AnalyticsReader) windowed(ctx context.Context, link *model.Link, period model.Period) (*model.StatsReport, error) {
	now := a.now()
	since := now.Add(-period.Span())

	report := model.NewStatsReport(link.ID, period, now)
	report.From = &since

	perDay := make(map[string]int64)
	err := a.clicks.ScanSince(ctx, link.ID, since, func(c *model.Click) error {
		report.TotalClicks++
		report.TotalEarnings += c.Earned
		if c.IsUnique {
			report.UniqueVisitors++
		}
		for _, dim := range model.Dimensions {
			report.Breakdown(dim)[c.FacetValue(dim)]++
		}
		perDay[c.Timestamp.In(a.loc).Format(time.DateOnly)]++
		if len(report.RecentClicks) < a.recentLimit {
			report.RecentClicks = append(report.RecentClicks, *c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan clicks: %w", err)
	}

	report.ClicksByDate = a.series(since, now, perDay)
	return report, nil
}

// series returns one point per calendar day in [since, now], oldest first,
// including days without clicks.
func (a *AnalyticsReader) series(since, now time.Time, perDay map[string]int64) []model.DailyClicks {
	first := since.In(a.loc)
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, a.loc)
	last := now.In(a.loc).Format(time.DateOnly)

	out := make([]model.DailyClicks, 0, 32)
	for {
		key := day.Format(time.DateOnly)
		out = append(out, model.DailyClicks{Date: key, Clicks: perDay[key]})
		if key >= last {
			return out
		}
		day = day.AddDate(0, 0, 1)
	}
}
