package repository

import (
	"context"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FacetRepository maintains per-link facet counters.
type FacetRepository interface {
	// Increment adds one click to each bucket in hits, creating missing buckets.
	Increment(ctx context.Context, linkID string, hits []model.FacetHit, at time.Time) error
	ListByLink(ctx context.Context, linkID string) ([]model.FacetBucket, error)
}

type facetRepository struct {
	db *gorm.DB
}

// NewFacetRepository returns a GORM-backed FacetRepository.
func NewFacetRepository(db *gorm.DB) FacetRepository {
	return &facetRepository{db: db}
}

func (r *facetRepository) Increment(ctx context.Context, linkID string, hits []model.FacetHit, at time.Time) error {
	if len(hits) == 0 {
		return nil
	}

	buckets := make([]model.FacetBucket, 0, len(hits))
	for _, hit := range hits {
		buckets = append(buckets, model.FacetBucket{
			LinkID:      linkID,
			Dimension:   hit.Dimension,
			Value:       hit.Value,
			Count:       1,
			Earnings:    hit.Earnings,
			FirstSeenAt: at,
			LastSeenAt:  at,
		})
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "link_id"}, {Name: "dimension"}, {Name: "value"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "count"}, Value: gorm.Expr("facet_buckets.count + EXCLUDED.count")},
			{Column: clause.Column{Name: "earnings"}, Value: gorm.Expr("facet_buckets.earnings + EXCLUDED.earnings")},
			{Column: clause.Column{Name: "first_seen_at"}, Value: gorm.Expr("LEAST(facet_buckets.first_seen_at, EXCLUDED.first_seen_at)")},
			{Column: clause.Column{Name: "last_seen_at"}, Value: gorm.Expr("GREATEST(facet_buckets.last_seen_at, EXCLUDED.last_seen_at)")},
		},
	}).Create(&buckets).Error
}

func (r *facetRepository) ListByLink(ctx context.Context, linkID string) ([]model.FacetBucket, error) {
	var result []model.FacetBucket
	if err := r.db.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("dimension, count DESC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
