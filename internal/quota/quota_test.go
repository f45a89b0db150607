package quota

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/optipress/optipress/internal/config"
	"github.com/optipress/optipress/internal/models"
	"github.com/optipress/optipress/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newManager(t *testing.T, cfg config.QuotaConfig) *Manager {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.QuotaCounter{}))
	return NewManager(repository.NewQuotaRepository(db), cfg)
}

func TestManager_UnlimitedByDefault(t *testing.T) {
	m := newManager(t, config.QuotaConfig{
		ImageLimit: models.QuotaUnlimited,
		VideoLimit: models.QuotaUnlimited,
	})
	ctx := context.Background()

	ok, err := m.CanConvert(ctx, models.MediaTypeImage)
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Reserve(ctx, models.MediaTypeImage))
	}
	counter, err := m.Usage(ctx, models.MediaTypeImage)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counter.Used)
}

func TestManager_ReserveStopsAtLimit(t *testing.T) {
	m := newManager(t, config.QuotaConfig{ImageLimit: 2, VideoLimit: models.QuotaUnlimited})
	ctx := context.Background()

	require.NoError(t, m.Reserve(ctx, models.MediaTypeImage))
	require.NoError(t, m.Reserve(ctx, models.MediaTypeImage))

	err := m.Reserve(ctx, models.MediaTypeImage)
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)

	ok, err := m.CanConvert(ctx, models.MediaTypeImage)
	require.NoError(t, err)
	assert.False(t, ok)

	// Video quota is independent of the image counter.
	require.NoError(t, m.Reserve(ctx, models.MediaTypeVideo))
}

func TestManager_RecordUsagePastLimit(t *testing.T) {
	m := newManager(t, config.QuotaConfig{ImageLimit: 1, VideoLimit: 1})
	ctx := context.Background()

	// Usage for artifacts that exist is recorded even beyond the cap.
	require.NoError(t, m.RecordUsage(ctx, models.MediaTypeImage))
	require.NoError(t, m.RecordUsage(ctx, models.MediaTypeImage))
	require.NoError(t, m.RecordUsage(ctx, models.MediaTypeImage))

	counter, err := m.Usage(ctx, models.MediaTypeImage)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counter.Used)

	assert.ErrorIs(t, m.Reserve(ctx, models.MediaTypeImage), models.ErrQuotaExceeded)
}

func TestManager_LazyPeriodRollover(t *testing.T) {
	m := newManager(t, config.QuotaConfig{ImageLimit: 1, VideoLimit: 1})
	ctx := context.Background()

	current := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	m.WithClock(func() time.Time { return current })

	require.NoError(t, m.Reserve(ctx, models.MediaTypeImage))
	assert.ErrorIs(t, m.Reserve(ctx, models.MediaTypeImage), models.ErrQuotaExceeded)

	// The first call in September sees a fresh counter; August's row is
	// untouched.
	current = time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.Reserve(ctx, models.MediaTypeImage))

	counter, err := m.Usage(ctx, models.MediaTypeImage)
	require.NoError(t, err)
	assert.Equal(t, "2026-09", counter.Period)
	assert.Equal(t, int64(1), counter.Used)
}

func TestManager_PeriodKeyIsUTC(t *testing.T) {
	m := newManager(t, config.QuotaConfig{})
	// 23:30 on Aug 31 in UTC-5 is already September in UTC.
	loc := time.FixedZone("UTC-5", -5*60*60)
	m.WithClock(func() time.Time {
		return time.Date(2026, time.August, 31, 23, 30, 0, 0, loc)
	})
	assert.Equal(t, "2026-09", m.Period())
}
