// Package tracker keeps the durable ledger of produced artifacts and
// maps it back to files on disk.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/optipress/optipress/internal/convert"
	"github.com/optipress/optipress/internal/models"
	"github.com/optipress/optipress/internal/repository"
)

// Tracker records which formats each attachment has been converted to.
// Records are idempotent per (attachment, format); re-recording a pair
// refreshes sizes and timestamp of the existing row.
type Tracker struct {
	records repository.ConversionRecordRepository
	// fileExists is swappable for tests.
	fileExists func(path string) bool
	logger     *slog.Logger
}

// New creates a tracker over the conversion record repository.
func New(records repository.ConversionRecordRepository) *Tracker {
	return &Tracker{
		records:    records,
		fileExists: fileOnDisk,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger.
func (t *Tracker) WithLogger(logger *slog.Logger) *Tracker {
	t.logger = logger
	return t
}

func fileOnDisk(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// RecordConversion persists one produced artifact. originalSize and
// convertedSize are byte counts at conversion time; a second call for
// the same pair overwrites them.
func (t *Tracker) RecordConversion(ctx context.Context, attachmentID int64, format models.Format, originalSize, convertedSize int64) error {
	record := &models.ConversionRecord{
		AttachmentID:  attachmentID,
		Format:        format,
		OriginalSize:  originalSize,
		ConvertedSize: convertedSize,
		ConvertedAt:   time.Now().UTC(),
	}
	if err := t.records.Upsert(ctx, record); err != nil {
		return fmt.Errorf("recording conversion: %w", err)
	}
	return nil
}

// ConvertedFormats returns the formats recorded for an attachment.
func (t *Tracker) ConvertedFormats(ctx context.Context, attachmentID int64) ([]models.Format, error) {
	return t.records.GetFormats(ctx, attachmentID)
}

// HasConversion reports whether the pair is recorded.
func (t *Tracker) HasConversion(ctx context.Context, attachmentID int64, format models.Format) (bool, error) {
	return t.records.Has(ctx, attachmentID, format)
}

// MissingFormats returns the wanted formats that have no record yet.
func (t *Tracker) MissingFormats(ctx context.Context, attachmentID int64, wanted []models.Format) ([]models.Format, error) {
	have, err := t.records.GetFormats(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	recorded := make(map[models.Format]bool, len(have))
	for _, f := range have {
		recorded[f] = true
	}
	var missing []models.Format
	for _, f := range wanted {
		if !recorded[f] {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

// ConvertedFiles maps the recorded formats of a source file to artifact
// paths that actually exist on disk. A recorded format whose artifact
// has gone missing is skipped, so render-time substitution never points
// at a dead file.
func (t *Tracker) ConvertedFiles(ctx context.Context, attachmentID int64, sourcePath string) (convert.FileSet, error) {
	formats, err := t.records.GetFormats(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	set := convert.FileSet{}
	for _, format := range formats {
		artifact := convert.ArtifactPath(sourcePath, format)
		if !t.fileExists(artifact) {
			t.logger.Debug("recorded artifact missing on disk",
				slog.Int64("attachment_id", attachmentID),
				slog.String("path", artifact))
			continue
		}
		set[format] = artifact
	}
	return set, nil
}

// DeleteConversions removes an attachment's ledger rows and its artifact
// files. The original source file is never touched. File removal
// failures are logged and do not fail the call once the ledger rows are
// gone.
func (t *Tracker) DeleteConversions(ctx context.Context, attachmentID int64, sourcePath string) (int, error) {
	deleted, err := t.records.DeleteByAttachment(ctx, attachmentID)
	if err != nil {
		return 0, fmt.Errorf("deleting conversion records: %w", err)
	}
	removed := 0
	for _, record := range deleted {
		artifact := convert.ArtifactPath(sourcePath, record.Format)
		if filepath.Clean(artifact) == filepath.Clean(sourcePath) {
			continue
		}
		if err := os.Remove(artifact); err != nil {
			if !os.IsNotExist(err) {
				t.logger.Warn("failed to remove artifact",
					slog.String("path", artifact),
					slog.String("error", err.Error()))
			}
			continue
		}
		removed++
	}
	t.logger.Info("conversions deleted",
		slog.Int64("attachment_id", attachmentID),
		slog.Int("records", len(deleted)),
		slog.Int("files_removed", removed))
	return len(deleted), nil
}

// Statistics aggregates recorded conversions per format.
func (t *Tracker) Statistics(ctx context.Context, filter repository.StatisticsFilter) ([]repository.FormatStatistics, error) {
	return t.records.Statistics(ctx, filter)
}
