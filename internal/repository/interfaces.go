// Package repository defines data access interfaces for optipress entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/optipress/optipress/internal/models"
)

// FormatStatistics aggregates conversion outcomes for one format.
type FormatStatistics struct {
	Format        models.Format `json:"format"`
	Count         int64         `json:"count"`
	OriginalSize  int64         `json:"original_size"`
	ConvertedSize int64         `json:"converted_size"`
}

// Reduction returns the fractional size reduction across the format,
// 0 when no original bytes were recorded.
func (s *FormatStatistics) Reduction() float64 {
	if s.OriginalSize <= 0 {
		return 0
	}
	return float64(s.OriginalSize-s.ConvertedSize) / float64(s.OriginalSize)
}

// StatisticsFilter narrows a statistics query.
type StatisticsFilter struct {
	// Formats limits the aggregation to the given formats. Empty = all.
	Formats []models.Format
	// Since and Until bound converted_at. Zero values are open ends.
	Since time.Time
	Until time.Time
}

// ConversionRecordRepository defines operations for the conversion ledger.
type ConversionRecordRepository interface {
	// Upsert inserts a record or, when a row for (attachment_id, format)
	// exists, overwrites its sizes and timestamp in place. The write is a
	// single conditional statement, safe under concurrent re-conversion.
	Upsert(ctx context.Context, record *models.ConversionRecord) error
	// GetByAttachment retrieves all records for an attachment.
	GetByAttachment(ctx context.Context, attachmentID int64) ([]*models.ConversionRecord, error)
	// GetFormats retrieves the formats an attachment has been converted to.
	GetFormats(ctx context.Context, attachmentID int64) ([]models.Format, error)
	// Has reports whether a record exists for (attachment_id, format).
	Has(ctx context.Context, attachmentID int64, format models.Format) (bool, error)
	// DeleteByAttachment removes all records for an attachment, returning
	// the deleted rows so the caller can remove files on disk.
	DeleteByAttachment(ctx context.Context, attachmentID int64) ([]*models.ConversionRecord, error)
	// Statistics aggregates counts and byte totals per format.
	Statistics(ctx context.Context, filter StatisticsFilter) ([]FormatStatistics, error)
}

// QuotaRepository defines operations for the quota ledger.
type QuotaRepository interface {
	// Get retrieves the counter for (media_type, period), creating it with
	// the given limit when absent. A stale limit from a previous config is
	// updated to match.
	Get(ctx context.Context, media models.MediaType, period string, limit int64) (*models.QuotaCounter, error)
	// Increment adds one artifact to the counter unconditionally. Usage is
	// never lost for a conversion that actually happened.
	Increment(ctx context.Context, media models.MediaType, period string, limit int64) error
	// Reserve atomically admits and counts one artifact: a single
	// conditional update that increments only while capacity remains.
	// Returns false when the counter is exhausted.
	Reserve(ctx context.Context, media models.MediaType, period string, limit int64) (bool, error)
}

// AttachmentRepository defines operations for attachment metadata.
type AttachmentRepository interface {
	// Upsert inserts or refreshes the metadata row for an attachment.
	Upsert(ctx context.Context, meta *models.AttachmentMeta) error
	// GetByAttachmentID retrieves metadata by the host attachment ID.
	GetByAttachmentID(ctx context.Context, attachmentID int64) (*models.AttachmentMeta, error)
	// GetByRelativePath retrieves metadata by uploads-relative path.
	GetByRelativePath(ctx context.Context, relativePath string) (*models.AttachmentMeta, error)
	// GetByCDNURL retrieves metadata by exact externally-rewritten URL.
	GetByCDNURL(ctx context.Context, cdnURL string) (*models.AttachmentMeta, error)
	// GetUnconverted retrieves up to limit attachments of the given MIME
	// types that are missing at least one of the wanted formats. Used by
	// the backfill sweep.
	GetUnconverted(ctx context.Context, mimeTypes []string, wanted []models.Format, limit int) ([]*models.AttachmentMeta, error)
	// Delete removes the metadata row for an attachment.
	Delete(ctx context.Context, attachmentID int64) error
}

// ConvertJobRepository defines operations for the deferred conversion queue.
type ConvertJobRepository interface {
	// Enqueue inserts a job unless one for the same
	// (attachment_id, source_path) is already pending or running.
	// Returns false when the job was deduplicated.
	Enqueue(ctx context.Context, job *models.ConvertJob) (bool, error)
	// ClaimNext atomically locks and returns the oldest pending job for
	// the given worker, or nil when the queue is empty.
	ClaimNext(ctx context.Context, workerID string) (*models.ConvertJob, error)
	// MarkCompleted transitions a job to completed with a result summary.
	MarkCompleted(ctx context.Context, id models.ULID, result string) error
	// MarkFailed transitions a job to failed with the error message.
	// Jobs with attempts remaining are returned to pending instead.
	MarkFailed(ctx context.Context, id models.ULID, errMsg string) error
	// RequeueStale returns running jobs locked longer than maxAge to
	// pending, recovering work abandoned by a process restart.
	RequeueStale(ctx context.Context, maxAge time.Duration) (int64, error)
	// GetByID retrieves a job by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.ConvertJob, error)
}
