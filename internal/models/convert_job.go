package models

import (
	"fmt"
	"time"
)

// ConvertJobStatus represents the lifecycle state of a queued conversion.
type ConvertJobStatus string

const (
	// JobStatusPending indicates the job is waiting for a worker.
	JobStatusPending ConvertJobStatus = "pending"
	// JobStatusRunning indicates a worker is executing the job.
	JobStatusRunning ConvertJobStatus = "running"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted ConvertJobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed ConvertJobStatus = "failed"
)

// ConvertJob is a queued video conversion. Image conversion runs inline
// with the triggering event; video conversion is deferred through this
// queue. The (attachment_id, source_path) pair is the dedupe key: a pair
// already pending or running is never enqueued twice.
type ConvertJob struct {
	BaseModel

	// AttachmentID is the host system's numeric attachment identifier.
	AttachmentID int64 `gorm:"not null;index:idx_job_dedupe" json:"attachment_id"`

	// SourcePath is the absolute path of the source file at enqueue time.
	SourcePath string `gorm:"not null;size:1024;index:idx_job_dedupe" json:"source_path"`

	// Status is the job lifecycle state.
	Status ConvertJobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// AttemptCount is the number of times the job has been picked up.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts caps retries. The engine never retries; the scheduler
	// re-queues failed jobs up to this count.
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// LockedBy is the worker ID currently executing the job.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`

	// StartedAt is when the current attempt began.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// LastError holds the most recent failure message.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// Result holds a short human-readable outcome summary.
	Result string `gorm:"size:1024" json:"result,omitempty"`
}

// TableName returns the table name for ConvertJob.
func (ConvertJob) TableName() string {
	return "convert_jobs"
}

// Validate checks the job for required fields.
func (j *ConvertJob) Validate() error {
	if j.AttachmentID <= 0 {
		return fmt.Errorf("%w: attachment id must be positive", ErrValidation)
	}
	if j.SourcePath == "" {
		return fmt.Errorf("%w: source path is required", ErrValidation)
	}
	return nil
}

// IsFinished reports whether the job reached a terminal state.
func (j *ConvertJob) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// CanRetry reports whether a failed job has attempts remaining.
func (j *ConvertJob) CanRetry() bool {
	return j.Status == JobStatusFailed && j.AttemptCount < j.MaxAttempts
}
