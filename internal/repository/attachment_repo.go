package repository

import (
	"context"
	"fmt"

	"github.com/optipress/optipress/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// attachmentRepository implements AttachmentRepository using GORM.
type attachmentRepository struct {
	db *gorm.DB
}

// NewAttachmentRepository creates a new AttachmentRepository.
func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

// Upsert inserts or refreshes the metadata row for an attachment.
func (r *attachmentRepository) Upsert(ctx context.Context, meta *models.AttachmentMeta) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("validating attachment meta: %w", err)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "attachment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"relative_path", "mime_type", "width", "height", "cdn_url", "updated_at",
		}),
	}).Create(meta).Error
}

// GetByAttachmentID retrieves metadata by the host attachment ID.
func (r *attachmentRepository) GetByAttachmentID(ctx context.Context, attachmentID int64) (*models.AttachmentMeta, error) {
	var meta models.AttachmentMeta
	if err := r.db.WithContext(ctx).
		First(&meta, "attachment_id = ?", attachmentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &meta, nil
}

// GetByRelativePath retrieves metadata by uploads-relative path.
func (r *attachmentRepository) GetByRelativePath(ctx context.Context, relativePath string) (*models.AttachmentMeta, error) {
	var meta models.AttachmentMeta
	if err := r.db.WithContext(ctx).
		First(&meta, "relative_path = ?", relativePath).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &meta, nil
}

// GetByCDNURL retrieves metadata by exact externally-rewritten URL.
func (r *attachmentRepository) GetByCDNURL(ctx context.Context, cdnURL string) (*models.AttachmentMeta, error) {
	if cdnURL == "" {
		return nil, nil
	}
	var meta models.AttachmentMeta
	if err := r.db.WithContext(ctx).
		First(&meta, "cdn_url = ?", cdnURL).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &meta, nil
}

// GetUnconverted retrieves attachments missing at least one wanted format.
// An attachment qualifies when its distinct recorded formats number fewer
// than the wanted set. An .mp4 source's av1 artifact path is the source
// path itself, so av1 is never expected of those rows; otherwise the
// sweep would re-pick them forever.
func (r *attachmentRepository) GetUnconverted(ctx context.Context, mimeTypes []string, wanted []models.Format, limit int) ([]*models.AttachmentMeta, error) {
	if len(mimeTypes) == 0 || len(wanted) == 0 {
		return nil, nil
	}

	wantsAV1 := false
	for _, format := range wanted {
		if format == models.FormatAV1 {
			wantsAV1 = true
		}
	}

	query := r.db.WithContext(ctx).
		Where("mime_type IN ?", mimeTypes)

	if wantsAV1 {
		sub := r.db.
			Model(&models.ConversionRecord{}).
			Select("conversion_records.attachment_id").
			Joins("JOIN attachment_meta ON attachment_meta.attachment_id = conversion_records.attachment_id").
			Where("conversion_records.format IN ?", wanted).
			Group("conversion_records.attachment_id").
			Having("COUNT(DISTINCT conversion_records.format) >= ? - (CASE WHEN MAX(attachment_meta.relative_path) LIKE ? THEN 1 ELSE 0 END)",
				len(wanted), "%.mp4")
		query = query.Where("attachment_id NOT IN (?)", sub)
		if len(wanted) == 1 {
			// av1 alone leaves nothing wanted of an .mp4 source.
			query = query.Where("relative_path NOT LIKE ?", "%.mp4")
		}
	} else {
		sub := r.db.
			Model(&models.ConversionRecord{}).
			Select("attachment_id").
			Where("format IN ?", wanted).
			Group("attachment_id").
			Having("COUNT(DISTINCT format) >= ?", len(wanted))
		query = query.Where("attachment_id NOT IN (?)", sub)
	}

	var metas []*models.AttachmentMeta
	if err := query.
		Order("attachment_id ASC").
		Limit(limit).
		Find(&metas).Error; err != nil {
		return nil, err
	}
	return metas, nil
}

// Delete removes the metadata row for an attachment.
func (r *attachmentRepository) Delete(ctx context.Context, attachmentID int64) error {
	return r.db.WithContext(ctx).
		Delete(&models.AttachmentMeta{}, "attachment_id = ?", attachmentID).Error
}
