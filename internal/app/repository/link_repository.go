package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"gorm.io/gorm"
)

// LinkRepository defines the data access contract for short links.
type LinkRepository interface {
	// Create persists link. The storage layer rejects a duplicate short code with ErrCodeTaken.
	Create(ctx context.Context, link *model.Link) error
	GetByCode(ctx context.Context, code string) (*model.Link, error)
	GetByID(ctx context.Context, id string) (*model.Link, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error)
	// Update applies owner edits and returns the stored link.
	Update(ctx context.Context, id string, patch model.LinkPatch) (*model.Link, error)
	// IncrementRollups adds delta to the link counters in a single statement.
	IncrementRollups(ctx context.Context, id string, delta model.RollupDelta) error
	// ScanCodes streams every assigned short code to fn.
	ScanCodes(ctx context.Context, fn func(code string) error) error
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrCodeTaken
		}
		return err
	}
	return nil
}

func (r *linkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	return r.first(ctx, "short_code = ?", code)
}

func (r *linkRepository) GetByID(ctx context.Context, id string) (*model.Link, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *linkRepository) first(ctx context.Context, query string, arg any) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where(query, arg).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("short_code = ?", code).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *linkRepository) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var result []model.Link
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}

	return result, nil
}

func (r *linkRepository) Update(ctx context.Context, id string, patch model.LinkPatch) (*model.Link, error) {
	link, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return link, nil
	}

	patch.Apply(link)
	cols := append(patch.Columns(), "updated_at")
	link.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).Model(link).Select(cols).Updates(link)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrLinkNotFound
	}
	return link, nil
}

func (r *linkRepository) IncrementRollups(ctx context.Context, id string, delta model.RollupDelta) error {
	clickedAt := delta.ClickedAt
	if clickedAt.IsZero() {
		clickedAt = time.Now()
	}

	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"clicks":          gorm.Expr("clicks + ?", delta.Clicks),
			"unique_visitors": gorm.Expr("unique_visitors + ?", delta.UniqueVisitors),
			"earnings":        gorm.Expr("earnings + ?", delta.Earnings),
			"last_clicked_at": gorm.Expr("GREATEST(COALESCE(last_clicked_at, ?), ?)", clickedAt, clickedAt),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *linkRepository) ScanCodes(ctx context.Context, fn func(code string) error) error {
	rows, err := r.db.WithContext(ctx).Model(&model.Link{}).Select("short_code").Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return err
		}
		if err := fn(code); err != nil {
			return err
		}
	}
	return rows.Err()
}
