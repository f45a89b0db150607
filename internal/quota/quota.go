// Package quota meters conversion admission per media class and
// calendar month.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/optipress/optipress/internal/config"
	"github.com/optipress/optipress/internal/models"
	"github.com/optipress/optipress/internal/repository"
)

// Manager gates conversions against per-month usage counters. Period
// rollover is lazy: the first operation in a new month works against a
// fresh counter, nothing resets the old one.
type Manager struct {
	repo   repository.QuotaRepository
	limits map[models.MediaType]int64
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a quota manager with the configured limits.
func NewManager(repo repository.QuotaRepository, cfg config.QuotaConfig) *Manager {
	return &Manager{
		repo: repo,
		limits: map[models.MediaType]int64{
			models.MediaTypeImage: cfg.ImageLimit,
			models.MediaTypeVideo: cfg.VideoLimit,
		},
		now:    time.Now,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// WithClock overrides the time source. Tests use it to cross period
// boundaries.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Limit returns the configured limit for a media class.
func (m *Manager) Limit(media models.MediaType) int64 {
	limit, ok := m.limits[media]
	if !ok {
		return models.QuotaUnlimited
	}
	return limit
}

// Period returns the current period key.
func (m *Manager) Period() string {
	return models.QuotaPeriodKey(m.now())
}

// CanConvert reports whether the current period still has capacity for
// the media class. Advisory only: between this check and the conversion
// another caller may consume the remaining capacity. Reserve is the
// exact gate.
func (m *Manager) CanConvert(ctx context.Context, media models.MediaType) (bool, error) {
	limit := m.Limit(media)
	if limit == models.QuotaUnlimited {
		return true, nil
	}
	counter, err := m.repo.Get(ctx, media, m.Period(), limit)
	if err != nil {
		return false, fmt.Errorf("reading quota counter: %w", err)
	}
	return counter.HasCapacity(), nil
}

// Reserve admits and counts one artifact in a single atomic step.
// Returns models.ErrQuotaExceeded when the period is exhausted.
func (m *Manager) Reserve(ctx context.Context, media models.MediaType) error {
	period := m.Period()
	ok, err := m.repo.Reserve(ctx, media, period, m.Limit(media))
	if err != nil {
		return fmt.Errorf("reserving quota: %w", err)
	}
	if !ok {
		m.logger.Info("quota exhausted",
			slog.String("media_type", string(media)),
			slog.String("period", period))
		return fmt.Errorf("%w: %s quota for %s", models.ErrQuotaExceeded, media, period)
	}
	return nil
}

// RecordUsage counts one produced artifact without an admission check.
// Used when the artifact already exists, so usage is never lost even if
// admission was decided under an older period or config.
func (m *Manager) RecordUsage(ctx context.Context, media models.MediaType) error {
	if err := m.repo.Increment(ctx, media, m.Period(), m.Limit(media)); err != nil {
		return fmt.Errorf("recording quota usage: %w", err)
	}
	return nil
}

// Usage returns the counter for the current period.
func (m *Manager) Usage(ctx context.Context, media models.MediaType) (*models.QuotaCounter, error) {
	counter, err := m.repo.Get(ctx, media, m.Period(), m.Limit(media))
	if err != nil {
		return nil, fmt.Errorf("reading quota counter: %w", err)
	}
	return counter, nil
}
