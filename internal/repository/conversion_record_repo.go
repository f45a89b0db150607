// Package repository provides data access implementations.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/optipress/optipress/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// conversionRecordRepository implements ConversionRecordRepository using GORM.
type conversionRecordRepository struct {
	db *gorm.DB
}

// NewConversionRecordRepository creates a new ConversionRecordRepository.
func NewConversionRecordRepository(db *gorm.DB) ConversionRecordRepository {
	return &conversionRecordRepository{db: db}
}

// Upsert inserts or updates the record for (attachment_id, format).
func (r *conversionRecordRepository) Upsert(ctx context.Context, record *models.ConversionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validating conversion record: %w", err)
	}
	if record.ConvertedAt.IsZero() {
		record.ConvertedAt = time.Now()
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "attachment_id"}, {Name: "format"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"original_size", "converted_size", "converted_at", "updated_at",
		}),
	}).Create(record).Error
}

// GetByAttachment retrieves all records for an attachment.
func (r *conversionRecordRepository) GetByAttachment(ctx context.Context, attachmentID int64) ([]*models.ConversionRecord, error) {
	var records []*models.ConversionRecord
	if err := r.db.WithContext(ctx).
		Where("attachment_id = ?", attachmentID).
		Order("format ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetFormats retrieves the formats an attachment has been converted to.
func (r *conversionRecordRepository) GetFormats(ctx context.Context, attachmentID int64) ([]models.Format, error) {
	var formats []models.Format
	if err := r.db.WithContext(ctx).
		Model(&models.ConversionRecord{}).
		Where("attachment_id = ?", attachmentID).
		Order("format ASC").
		Pluck("format", &formats).Error; err != nil {
		return nil, err
	}
	return formats, nil
}

// Has reports whether a record exists for (attachment_id, format).
func (r *conversionRecordRepository) Has(ctx context.Context, attachmentID int64, format models.Format) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ConversionRecord{}).
		Where("attachment_id = ? AND format = ?", attachmentID, format).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteByAttachment removes all records for an attachment and returns the
// deleted rows.
func (r *conversionRecordRepository) DeleteByAttachment(ctx context.Context, attachmentID int64) ([]*models.ConversionRecord, error) {
	records, err := r.GetByAttachment(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	if err := r.db.WithContext(ctx).
		Delete(&models.ConversionRecord{}, "attachment_id = ?", attachmentID).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Statistics aggregates counts and byte totals per format.
func (r *conversionRecordRepository) Statistics(ctx context.Context, filter StatisticsFilter) ([]FormatStatistics, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ConversionRecord{}).
		Select("format, COUNT(*) AS count, SUM(original_size) AS original_size, SUM(converted_size) AS converted_size").
		Group("format").
		Order("format ASC")

	if len(filter.Formats) > 0 {
		query = query.Where("format IN ?", filter.Formats)
	}
	if !filter.Since.IsZero() {
		query = query.Where("converted_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("converted_at < ?", filter.Until)
	}

	var stats []FormatStatistics
	if err := query.Scan(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
