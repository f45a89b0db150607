package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/optipress/optipress/internal/models"
	"gorm.io/gorm"
)

// convertJobRepository implements ConvertJobRepository using GORM.
type convertJobRepository struct {
	db *gorm.DB
}

// NewConvertJobRepository creates a new ConvertJobRepository.
func NewConvertJobRepository(db *gorm.DB) ConvertJobRepository {
	return &convertJobRepository{db: db}
}

// Enqueue inserts a job unless an equivalent one is already in flight.
func (r *convertJobRepository) Enqueue(ctx context.Context, job *models.ConvertJob) (bool, error) {
	if err := job.Validate(); err != nil {
		return false, fmt.Errorf("validating convert job: %w", err)
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	enqueued := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.ConvertJob{}).
			Where("attachment_id = ? AND source_path = ? AND status IN ?",
				job.AttachmentID, job.SourcePath,
				[]models.ConvertJobStatus{models.JobStatusPending, models.JobStatusRunning}).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		enqueued = true
		return nil
	})
	return enqueued, err
}

// ClaimNext atomically locks and returns the oldest pending job.
func (r *convertJobRepository) ClaimNext(ctx context.Context, workerID string) (*models.ConvertJob, error) {
	var claimed *models.ConvertJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.ConvertJob
		if err := tx.
			Where("status = ?", models.JobStatusPending).
			Order("created_at ASC").
			First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}

		now := time.Now()
		// Conditional update: another worker may have claimed the job
		// between the read and the write.
		result := tx.Model(&models.ConvertJob{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
			Updates(map[string]any{
				"status":        models.JobStatusRunning,
				"locked_by":     workerID,
				"started_at":    now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		job.Status = models.JobStatusRunning
		job.LockedBy = workerID
		job.StartedAt = &now
		job.AttemptCount++
		claimed = &job
		return nil
	})

	return claimed, err
}

// MarkCompleted transitions a job to completed.
func (r *convertJobRepository) MarkCompleted(ctx context.Context, id models.ULID, result string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.ConvertJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       models.JobStatusCompleted,
			"completed_at": now,
			"locked_by":    "",
			"result":       result,
			"last_error":   "",
		}).Error
}

// MarkFailed transitions a job to failed, or back to pending when attempts
// remain.
func (r *convertJobRepository) MarkFailed(ctx context.Context, id models.ULID, errMsg string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.ConvertJob
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"locked_by":  "",
			"last_error": errMsg,
		}
		if job.AttemptCount < job.MaxAttempts {
			updates["status"] = models.JobStatusPending
		} else {
			updates["status"] = models.JobStatusFailed
			updates["completed_at"] = time.Now()
		}

		return tx.Model(&models.ConvertJob{}).Where("id = ?", id).Updates(updates).Error
	})
}

// RequeueStale returns long-running locked jobs to pending.
func (r *convertJobRepository) RequeueStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	result := r.db.WithContext(ctx).Model(&models.ConvertJob{}).
		Where("status = ? AND started_at < ?", models.JobStatusRunning, cutoff).
		Updates(map[string]any{
			"status":    models.JobStatusPending,
			"locked_by": "",
		})
	return result.RowsAffected, result.Error
}

// GetByID retrieves a job by ID.
func (r *convertJobRepository) GetByID(ctx context.Context, id models.ULID) (*models.ConvertJob, error) {
	var job models.ConvertJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}
