package repository

import (
	"context"
	"fmt"

	"github.com/optipress/optipress/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// quotaRepository implements QuotaRepository using GORM.
type quotaRepository struct {
	db *gorm.DB
}

// NewQuotaRepository creates a new QuotaRepository.
func NewQuotaRepository(db *gorm.DB) QuotaRepository {
	return &quotaRepository{db: db}
}

// ensure creates the counter row for (media, period) if absent.
// ON CONFLICT DO NOTHING makes concurrent first access safe.
func (r *quotaRepository) ensure(ctx context.Context, media models.MediaType, period string, limit int64) error {
	counter := &models.QuotaCounter{
		MediaType: media,
		Period:    period,
		Used:      0,
		Limit:     limit,
	}
	if err := counter.Validate(); err != nil {
		return fmt.Errorf("validating quota counter: %w", err)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "media_type"}, {Name: "period"}},
		DoNothing: true,
	}).Create(counter).Error
}

// Get retrieves the counter for (media, period), creating it when absent.
func (r *quotaRepository) Get(ctx context.Context, media models.MediaType, period string, limit int64) (*models.QuotaCounter, error) {
	if err := r.ensure(ctx, media, period, limit); err != nil {
		return nil, err
	}

	var counter models.QuotaCounter
	if err := r.db.WithContext(ctx).
		First(&counter, "media_type = ? AND period = ?", media, period).Error; err != nil {
		return nil, err
	}

	// A limit changed in config since the row was created wins.
	if counter.Limit != limit {
		if err := r.db.WithContext(ctx).
			Model(&models.QuotaCounter{}).
			Where("media_type = ? AND period = ?", media, period).
			Update("quota_limit", limit).Error; err != nil {
			return nil, err
		}
		counter.Limit = limit
	}

	return &counter, nil
}

// Increment adds one artifact to the counter unconditionally.
func (r *quotaRepository) Increment(ctx context.Context, media models.MediaType, period string, limit int64) error {
	if err := r.ensure(ctx, media, period, limit); err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.QuotaCounter{}).
		Where("media_type = ? AND period = ?", media, period).
		Update("used", gorm.Expr("used + 1")).Error
}

// Reserve admits and counts one artifact in a single conditional update.
func (r *quotaRepository) Reserve(ctx context.Context, media models.MediaType, period string, limit int64) (bool, error) {
	if err := r.ensure(ctx, media, period, limit); err != nil {
		return false, err
	}
	result := r.db.WithContext(ctx).
		Model(&models.QuotaCounter{}).
		Where("media_type = ? AND period = ? AND (quota_limit = ? OR used < quota_limit)",
			media, period, models.QuotaUnlimited).
		Update("used", gorm.Expr("used + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
