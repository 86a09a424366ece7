package repository

import (
	"context"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"gorm.io/gorm"
)

// ClickRepository is the append-only click log.
type ClickRepository interface {
	// Append writes click once. A repeated id yields ErrDuplicateClick.
	Append(ctx context.Context, click *model.Click) error
	// ExistsInRange reports whether linkID saw ip in [start, end).
	ExistsInRange(ctx context.Context, linkID, ip string, start, end time.Time) (bool, error)
	// ScanSince streams clicks with timestamp >= since, newest first. A zero since scans everything.
	ScanSince(ctx context.Context, linkID string, since time.Time, fn func(*model.Click) error) error
	Recent(ctx context.Context, linkID string, limit int) ([]model.Click, error)
}

type clickRepository struct {
	db *gorm.DB
}

// NewClickRepository returns a GORM-backed ClickRepository.
func NewClickRepository(db *gorm.DB) ClickRepository {
	return &clickRepository{db: db}
}

func (r *clickRepository) Append(ctx context.Context, click *model.Click) error {
	if err := r.db.WithContext(ctx).Create(click).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClick
		}
		return err
	}
	return nil
}

func (r *clickRepository) ExistsInRange(ctx context.Context, linkID, ip string, start, end time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Click{}).
		Where("link_id = ? AND ip = ? AND timestamp >= ? AND timestamp < ?", linkID, ip, start, end).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *clickRepository) ScanSince(ctx context.Context, linkID string, since time.Time, fn func(*model.Click) error) error {
	q := r.db.WithContext(ctx).Model(&model.Click{}).Where("link_id = ?", linkID)
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}

	rows, err := q.Order("timestamp DESC").Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var click model.Click
		if err := r.db.ScanRows(rows, &click); err != nil {
			return err
		}
		if err := fn(&click); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *clickRepository) Recent(ctx context.Context, linkID string, limit int) ([]model.Click, error) {
	if limit <= 0 {
		limit = 100
	}

	result := make([]model.Click, 0, limit)
	if err := r.db.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
