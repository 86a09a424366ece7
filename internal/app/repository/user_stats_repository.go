package repository

import (
	"context"
	"errors"

	"github.com/sifan077/linkpay/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserStatsRepository maintains per-owner lifetime counters.
type UserStatsRepository interface {
	Increment(ctx context.Context, ownerID string, delta model.UserStatsDelta) error
	// Get returns zeroed stats for an owner that has none yet.
	Get(ctx context.Context, ownerID string) (*model.UserStats, error)
}

type userStatsRepository struct {
	db *gorm.DB
}

// NewUserStatsRepository returns a GORM-backed UserStatsRepository.
func NewUserStatsRepository(db *gorm.DB) UserStatsRepository {
	return &userStatsRepository{db: db}
}

func (r *userStatsRepository) Increment(ctx context.Context, ownerID string, delta model.UserStatsDelta) error {
	row := model.UserStats{
		OwnerID:       ownerID,
		TotalLinks:    delta.Links,
		TotalClicks:   delta.Clicks,
		TotalEarnings: delta.Earnings,
		Balance:       delta.Balance,
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "total_links"}, Value: gorm.Expr("user_stats.total_links + EXCLUDED.total_links")},
			{Column: clause.Column{Name: "total_clicks"}, Value: gorm.Expr("user_stats.total_clicks + EXCLUDED.total_clicks")},
			{Column: clause.Column{Name: "total_earnings"}, Value: gorm.Expr("user_stats.total_earnings + EXCLUDED.total_earnings")},
			{Column: clause.Column{Name: "balance"}, Value: gorm.Expr("user_stats.balance + EXCLUDED.balance")},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("NOW()")},
		},
	}).Create(&row).Error
}

func (r *userStatsRepository) Get(ctx context.Context, ownerID string) (*model.UserStats, error) {
	var stats model.UserStats
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UserStats{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
