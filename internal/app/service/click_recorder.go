package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
	"github.com/sifan077/linkpay/internal/infra/prometheus"
	"go.uber.org/zap"
)

// ClickResult is what RecordClick reports back about the appended click.
type ClickResult struct {
	ClickID  string
	Earned   int64
	IsUnique bool
}

// RecorderDeps groups dependencies required by the click recorder.
type RecorderDeps struct {
	Logger     *zap.Logger
	Links      repository.LinkRepository
	Clicks     repository.ClickRepository
	Facets     repository.FacetRepository
	UserStats  repository.UserStatsRepository
	Classifier *Classifier
	Unique     UniqueTracker
	// Pending is optional; links with failed aggregate updates are queued there.
	Pending ReconcileQueue
	Now     func() time.Time
}

// ClickRecorder is the click write path.
type ClickRecorder struct {
	logger     *zap.Logger
	links      repository.LinkRepository
	clicks     repository.ClickRepository
	facets     repository.FacetRepository
	userStats  repository.UserStatsRepository
	classifier *Classifier
	unique     UniqueTracker
	pending    ReconcileQueue
	now        func() time.Time
}

// NewClickRecorder creates a recorder with the provided dependencies.
func NewClickRecorder(deps RecorderDeps) *ClickRecorder {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = NewClassifier(nil, ClassifierConfig{}, logger)
	}
	unique := deps.Unique
	if unique == nil {
		unique = NewStoreUniqueTracker(deps.Clicks, DailyWindow())
	}
	return &ClickRecorder{
		logger:     logger,
		links:      deps.Links,
		clicks:     deps.Clicks,
		facets:     deps.Facets,
		userStats:  deps.UserStats,
		classifier: classifier,
		unique:     unique,
		pending:    deps.Pending,
		now:        now,
	}
}

// RecordClick appends one click and folds it into the link, facet and owner aggregates.
//
// Nothing is written when the link is missing, inactive or expired. Once the
// click is appended, aggregate updates run to completion even if ctx is
// cancelled; their failures are returned wrapped in ErrAggregatePartial along
// with a non-nil result.
func (r *ClickRecorder) RecordClick(ctx context.Context, in model.ClickInput) (*ClickResult, error) {
	link, err := r.links.GetByID(ctx, in.LinkID)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("load link: %w", err)
	}

	at := in.OccurredAt
	if at.IsZero() {
		at = r.now()
	}
	switch link.EffectiveStatus(at) {
	case model.LinkStatusActive:
	case model.LinkStatusExpired:
		return nil, ErrLinkExpired
	default:
		return nil, ErrLinkInactive
	}

	facets := r.classifier.Classify(ctx, in.UserAgent, in.IP, in.AcceptLanguage)
	earned := r.classifier.Earn(facets)

	isUnique, err := r.unique.FirstVisit(ctx, link.ID, in.IP, at)
	if err != nil {
		r.logger.Warn("unique visitor check failed", zap.String("link_id", link.ID), zap.Error(err))
		isUnique = false
	}

	click := &model.Click{
		ID:        in.EventID,
		LinkID:    link.ID,
		OwnerID:   link.OwnerID,
		Timestamp: at,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Referer:   in.Referer,
		Country:   facets.Country,
		City:      facets.City,
		Browser:   facets.Browser,
		OS:        facets.OS,
		Device:    facets.Device,
		Language:  facets.Language,
		IsUnique:  isUnique,
		Earned:    earned,
	}
	if click.ID == "" {
		click.ID = model.NewClickID()
	}

	if err := r.clicks.Append(ctx, click); err != nil {
		if errors.Is(err, repository.ErrDuplicateClick) {
			// A redelivered event may have been appended without its aggregates.
			r.queueReconcile(context.WithoutCancel(ctx), link.ID)
			return nil, err
		}
		if isUnique {
			if ferr := r.unique.Forget(context.WithoutCancel(ctx), link.ID, in.IP, at); ferr != nil {
				r.logger.Warn("failed to withdraw unique visit", zap.String("link_id", link.ID), zap.Error(ferr))
			}
		}
		prometheus.ClickAppendFailures.Inc()
		r.logger.Error("click append failed",
			zap.String("link_id", link.ID),
			zap.String("click_id", click.ID),
			zap.Error(err))
		return nil, fmt.Errorf("append click: %w", err)
	}

	prometheus.ClicksRecorded.WithLabelValues(strconv.FormatBool(isUnique)).Inc()
	prometheus.EarnedMicros.Add(float64(earned))

	result := &ClickResult{ClickID: click.ID, Earned: earned, IsUnique: isUnique}
	if err := r.aggregate(context.WithoutCancel(ctx), link, click); err != nil {
		return result, err
	}
	return result, nil
}

func (r *ClickRecorder) aggregate(ctx context.Context, link *model.Link, click *model.Click) error {
	var unique int64
	if click.IsUnique {
		unique = 1
	}

	stages := []struct {
		name string
		run  func() error
	}{
		{"link_rollups", func() error {
			return r.links.IncrementRollups(ctx, link.ID, model.RollupDelta{
				Clicks:         1,
				UniqueVisitors: unique,
				Earnings:       click.Earned,
				ClickedAt:      click.Timestamp,
			})
		}},
		{"facet_buckets", func() error {
			return r.facets.Increment(ctx, link.ID, click.FacetHits(), click.Timestamp)
		}},
		{"owner_stats", func() error {
			return r.userStats.Increment(ctx, link.OwnerID, model.UserStatsDelta{
				Clicks:   1,
				Earnings: click.Earned,
				Balance:  click.Earned * int64(link.PublisherRate) / 100,
			})
		}},
	}

	var errs []error
	for _, stage := range stages {
		if err := stage.run(); err != nil {
			prometheus.AggregateFailures.WithLabelValues(stage.name).Inc()
			r.logger.Error("click aggregate update failed",
				zap.String("stage", stage.name),
				zap.String("link_id", link.ID),
				zap.String("click_id", click.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", stage.name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}

	r.queueReconcile(ctx, link.ID)
	return fmt.Errorf("%w: %w", ErrAggregatePartial, errors.Join(errs...))
}

func (r *ClickRecorder) queueReconcile(ctx context.Context, linkID string) {
	if r.pending == nil {
		return
	}
	if err := r.pending.MarkPending(ctx, linkID); err != nil {
		r.logger.Error("failed to queue link for reconciliation", zap.String("link_id", linkID), zap.Error(err))
	}
}
