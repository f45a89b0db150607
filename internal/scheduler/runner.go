// Package scheduler runs deferred video conversions and the backfill
// sweep. Image conversion is synchronous and never passes through here.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optipress/optipress/internal/models"
	"github.com/optipress/optipress/internal/repository"
)

// JobHandler executes one claimed conversion job and returns a short
// result summary.
type JobHandler interface {
	Execute(ctx context.Context, job *models.ConvertJob) (string, error)
}

// Runner manages a pool of workers that claim and execute queued jobs.
type Runner struct {
	mu sync.RWMutex

	jobs    repository.ConvertJobRepository
	handler JobHandler
	logger  *slog.Logger

	workerCount  int
	pollInterval time.Duration
	lockTimeout  time.Duration
	jobTimeout   time.Duration
	workerID     string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// WorkerCount is the number of concurrent workers. Default: 2
	WorkerCount int

	// PollInterval is how often idle workers poll the queue.
	// Default: 5 seconds
	PollInterval time.Duration

	// LockTimeout is the age after which a running job counts as
	// abandoned and is returned to pending. Default: 30 minutes
	LockTimeout time.Duration

	// JobTimeout bounds a single job execution. Default: 1 hour
	JobTimeout time.Duration

	// WorkerID identifies this runner instance for job locking.
	// Default: randomly generated
	WorkerID string
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  2,
		PollInterval: 5 * time.Second,
		LockTimeout:  30 * time.Minute,
		JobTimeout:   time.Hour,
		WorkerID:     "worker-" + uuid.NewString()[:8],
	}
}

// NewRunner creates a job runner.
func NewRunner(jobs repository.ConvertJobRepository, handler JobHandler) *Runner {
	config := DefaultRunnerConfig()
	return &Runner{
		jobs:         jobs,
		handler:      handler,
		logger:       slog.Default(),
		workerCount:  config.WorkerCount,
		pollInterval: config.PollInterval,
		lockTimeout:  config.LockTimeout,
		jobTimeout:   config.JobTimeout,
		workerID:     config.WorkerID,
	}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithConfig applies configuration to the runner.
func (r *Runner) WithConfig(config RunnerConfig) *Runner {
	if config.WorkerCount > 0 {
		r.workerCount = config.WorkerCount
	}
	if config.PollInterval > 0 {
		r.pollInterval = config.PollInterval
	}
	if config.LockTimeout > 0 {
		r.lockTimeout = config.LockTimeout
	}
	if config.JobTimeout > 0 {
		r.jobTimeout = config.JobTimeout
	}
	if config.WorkerID != "" {
		r.workerID = config.WorkerID
	}
	return r
}

// Start begins the runner with the configured number of workers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("runner already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.workerCount; i++ {
		workerID := fmt.Sprintf("%s-%d", r.workerID, i)
		r.wg.Add(1)
		go r.worker(workerID)
	}

	r.wg.Add(1)
	go r.recoverStaleJobs()

	r.logger.Info("runner started",
		slog.Int("workers", r.workerCount),
		slog.Duration("poll_interval", r.pollInterval),
		slog.String("worker_id", r.workerID))

	return nil
}

// Stop stops the runner and waits for workers to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("runner stopped")
}

// worker is the main worker loop.
func (r *Runner) worker(workerID string) {
	defer r.wg.Done()

	r.logger.Debug("worker started", slog.String("worker_id", workerID))

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("worker stopping", slog.String("worker_id", workerID))
			return
		default:
			if err := r.processJob(workerID); err != nil {
				if err != errNoJobs {
					r.logger.Error("error processing job",
						slog.String("worker_id", workerID),
						slog.Any("error", err))
				}
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(r.pollInterval):
				}
			}
		}
	}
}

var errNoJobs = fmt.Errorf("no jobs available")

// processJob claims and executes a single job.
func (r *Runner) processJob(workerID string) error {
	job, err := r.jobs.ClaimNext(r.ctx, workerID)
	if err != nil {
		return fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return errNoJobs
	}

	r.logger.Debug("claimed job",
		slog.String("worker_id", workerID),
		slog.String("job_id", job.ID.String()),
		slog.Int64("attachment_id", job.AttachmentID))

	jobCtx, cancel := context.WithTimeout(r.ctx, r.jobTimeout)
	defer cancel()

	result, execErr := r.handler.Execute(jobCtx, job)
	if execErr != nil {
		r.logger.Warn("job failed",
			slog.String("job_id", job.ID.String()),
			slog.Int64("attachment_id", job.AttachmentID),
			slog.Int("attempt", job.AttemptCount),
			slog.Any("error", execErr))
		if err := r.jobs.MarkFailed(r.ctx, job.ID, execErr.Error()); err != nil {
			return fmt.Errorf("marking job failed: %w", err)
		}
		return nil
	}

	r.logger.Info("job completed",
		slog.String("job_id", job.ID.String()),
		slog.Int64("attachment_id", job.AttachmentID),
		slog.String("result", result))
	if err := r.jobs.MarkCompleted(r.ctx, job.ID, result); err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}
	return nil
}

// recoverStaleJobs periodically returns abandoned running jobs to
// pending, so a process restart never strands claimed work.
func (r *Runner) recoverStaleJobs() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.lockTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			requeued, err := r.jobs.RequeueStale(r.ctx, r.lockTimeout)
			if err != nil {
				r.logger.Error("stale job recovery failed", slog.Any("error", err))
				continue
			}
			if requeued > 0 {
				r.logger.Warn("requeued stale jobs", slog.Int64("count", requeued))
			}
		}
	}
}
