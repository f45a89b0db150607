package repository

import (
	"context"
	"testing"
	"time"

	"github.com/optipress/optipress/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertJobRepo_EnqueueDedupes(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConvertJobRepository(db)
	ctx := context.Background()

	job := &models.ConvertJob{AttachmentID: 1, SourcePath: "/uploads/2024/01/clip.mp4"}
	enqueued, err := repo.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.True(t, enqueued)

	// Same (attachment, source path) while pending: deduplicated.
	dup := &models.ConvertJob{AttachmentID: 1, SourcePath: "/uploads/2024/01/clip.mp4"}
	enqueued, err = repo.Enqueue(ctx, dup)
	require.NoError(t, err)
	assert.False(t, enqueued)

	// Different source path for the same attachment is a new job.
	other := &models.ConvertJob{AttachmentID: 1, SourcePath: "/uploads/2024/01/clip-v2.mp4"}
	enqueued, err = repo.Enqueue(ctx, other)
	require.NoError(t, err)
	assert.True(t, enqueued)
}

func TestConvertJobRepo_EnqueueAfterCompletion(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConvertJobRepository(db)
	ctx := context.Background()

	job := &models.ConvertJob{AttachmentID: 2, SourcePath: "/uploads/a.mp4"}
	_, err := repo.Enqueue(ctx, job)
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.MarkCompleted(ctx, claimed.ID, "converted 2 formats"))

	// A finished job no longer blocks re-enqueueing.
	enqueued, err := repo.Enqueue(ctx, &models.ConvertJob{AttachmentID: 2, SourcePath: "/uploads/a.mp4"})
	require.NoError(t, err)
	assert.True(t, enqueued)
}

func TestConvertJobRepo_ClaimNext(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConvertJobRepository(db)
	ctx := context.Background()

	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, claimed, "empty queue yields nil")

	first := &models.ConvertJob{AttachmentID: 1, SourcePath: "/uploads/a.mp4"}
	_, err = repo.Enqueue(ctx, first)
	require.NoError(t, err)
	second := &models.ConvertJob{AttachmentID: 2, SourcePath: "/uploads/b.mp4"}
	_, err = repo.Enqueue(ctx, second)
	require.NoError(t, err)

	claimed, err = repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, int64(1), claimed.AttachmentID, "oldest job claimed first")
	assert.Equal(t, models.JobStatusRunning, claimed.Status)
	assert.Equal(t, "worker-1", claimed.LockedBy)
	assert.Equal(t, 1, claimed.AttemptCount)
	require.NotNil(t, claimed.StartedAt)

	// The claimed job is invisible to other workers.
	next, err := repo.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, int64(2), next.AttachmentID)
}

func TestConvertJobRepo_MarkFailedRetries(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConvertJobRepository(db)
	ctx := context.Background()

	job := &models.ConvertJob{AttachmentID: 3, SourcePath: "/uploads/c.mp4", MaxAttempts: 2}
	_, err := repo.Enqueue(ctx, job)
	require.NoError(t, err)

	// First failure: attempts remain, back to pending.
	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.MarkFailed(ctx, claimed.ID, "encoder exited 1"))

	got, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, "encoder exited 1", got.LastError)

	// Second failure exhausts attempts: terminal.
	claimed, err = repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.MarkFailed(ctx, claimed.ID, "encoder exited 1"))

	got, err = repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.True(t, got.IsFinished())
	require.NotNil(t, got.CompletedAt)
}

func TestConvertJobRepo_RequeueStale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConvertJobRepository(db)
	ctx := context.Background()

	job := &models.ConvertJob{AttachmentID: 4, SourcePath: "/uploads/d.mp4"}
	_, err := repo.Enqueue(ctx, job)
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Fresh running job is not requeued.
	n, err := repo.RequeueStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Backdate the lock to simulate an abandoned worker.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&models.ConvertJob{}).
		Where("id = ?", claimed.ID).
		Update("started_at", old).Error)

	n, err = repo.RequeueStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Empty(t, got.LockedBy)
}
