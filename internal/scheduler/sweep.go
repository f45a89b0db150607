package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Backfiller finds not-yet-converted attachments and kicks off their
// conversion. Returns how many attachments were picked up.
type Backfiller interface {
	Backfill(ctx context.Context, batchSize int) (int, error)
}

// Sweeper runs the backfill on a cron schedule, in small batches so a
// large unconverted backlog never monopolizes the workers.
type Sweeper struct {
	mu sync.Mutex

	backfiller Backfiller
	schedule   cron.Schedule
	batchSize  int
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper from a standard five-field cron spec.
func NewSweeper(backfiller Backfiller, cronSpec string, batchSize int) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(cronSpec)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", cronSpec, err)
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Sweeper{
		backfiller: backfiller,
		schedule:   schedule,
		batchSize:  batchSize,
		logger:     slog.Default(),
	}, nil
}

// WithLogger sets a custom logger.
func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	s.logger = logger
	return s
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("sweeper already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop()

	s.logger.Info("backfill sweeper started",
		slog.Int("batch_size", s.batchSize),
		slog.Time("next_run", s.schedule.Next(time.Now())))
	return nil
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("backfill sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.sweep()
		}
	}
}

// RunOnce performs a single sweep immediately, outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.backfiller.Backfill(ctx, s.batchSize)
}

func (s *Sweeper) sweep() {
	picked, err := s.backfiller.Backfill(s.ctx, s.batchSize)
	if err != nil {
		s.logger.Error("backfill sweep failed", slog.Any("error", err))
		return
	}
	if picked > 0 {
		s.logger.Info("backfill sweep completed", slog.Int("picked_up", picked))
	}
}
