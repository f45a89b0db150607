package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/optipress/optipress/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.AttachmentMeta{},
		&models.ConversionRecord{},
		&models.QuotaCounter{},
		&models.ConvertJob{},
	)
	require.NoError(t, err)

	return db
}

func TestConversionRecordRepo_Upsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversionRecordRepository(db)
	ctx := context.Background()

	record := &models.ConversionRecord{
		AttachmentID:  42,
		Format:        models.FormatWebP,
		OriginalSize:  1000,
		ConvertedSize: 400,
	}
	require.NoError(t, repo.Upsert(ctx, record))
	assert.False(t, record.ID.IsZero())
	assert.False(t, record.ConvertedAt.IsZero())

	found, err := repo.GetByAttachment(ctx, 42)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(400), found[0].ConvertedSize)
}

func TestConversionRecordRepo_UpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversionRecordRepository(db)
	ctx := context.Background()

	first := &models.ConversionRecord{
		AttachmentID:  7,
		Format:        models.FormatWebP,
		OriginalSize:  1000,
		ConvertedSize: 500,
	}
	require.NoError(t, repo.Upsert(ctx, first))

	// Re-conversion of the same pair overwrites in place.
	second := &models.ConversionRecord{
		AttachmentID:  7,
		Format:        models.FormatWebP,
		OriginalSize:  1000,
		ConvertedSize: 350,
	}
	require.NoError(t, repo.Upsert(ctx, second))

	records, err := repo.GetByAttachment(ctx, 7)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(350), records[0].ConvertedSize)

	// A different format for the same attachment is a separate record.
	require.NoError(t, repo.Upsert(ctx, &models.ConversionRecord{
		AttachmentID:  7,
		Format:        models.FormatAVIF,
		OriginalSize:  1000,
		ConvertedSize: 300,
	}))
	records, err = repo.GetByAttachment(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestConversionRecordRepo_UpsertRejectsInvalid(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversionRecordRepository(db)
	ctx := context.Background()

	err := repo.Upsert(ctx, &models.ConversionRecord{AttachmentID: 0, Format: models.FormatWebP})
	assert.ErrorIs(t, err, models.ErrValidation)

	err = repo.Upsert(ctx, &models.ConversionRecord{AttachmentID: 1, Format: "jxl"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestConversionRecordRepo_GetFormatsAndHas(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversionRecordRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.ConversionRecord{AttachmentID: 9, Format: models.FormatWebP}))
	require.NoError(t, repo.Upsert(ctx, &models.ConversionRecord{AttachmentID: 9, Format: models.FormatAVIF}))

	formats, err := repo.GetFormats(ctx, 9)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Format{models.FormatWebP, models.FormatAVIF}, formats)

	has, err := repo.Has(ctx, 9, models.FormatWebP)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.Has(ctx, 9, models.FormatWebM)
	require.NoError(t, err)
	assert.False(t, has)

	formats, err = repo.GetFormats(ctx, 1234)
	require.NoError(t, err)
	assert.Empty(t, formats)
}

func TestConversionRecordRepo_DeleteByAttachment(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversionRecordRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.ConversionRecord{AttachmentID: 5, Format: models.FormatWebP}))
	require.NoError(t, repo.Upsert(ctx, &models.ConversionRecord{AttachmentID: 5, Format: models.FormatAVIF}))
	require.NoError(t, repo.Upsert(ctx, &models.ConversionRecord{AttachmentID: 6, Format: models.FormatWebP}))

	deleted, err := repo.DeleteByAttachment(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	records, err := repo.GetByAttachment(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, records)

	// Unrelated attachment is untouched.
	records, err = repo.GetByAttachment(ctx, 6)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// Deleting again is a no-op.
	deleted, err = repo.DeleteByAttachment(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestConversionRecordRepo_Statistics(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversionRecordRepository(db)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.Upsert(ctx, &models.ConversionRecord{
		AttachmentID: 1, Format: models.FormatWebP, OriginalSize: 1000, ConvertedSize: 600, ConvertedAt: now,
	}))
	require.NoError(t, repo.Upsert(ctx, &models.ConversionRecord{
		AttachmentID: 2, Format: models.FormatWebP, OriginalSize: 2000, ConvertedSize: 1000, ConvertedAt: now,
	}))
	require.NoError(t, repo.Upsert(ctx, &models.ConversionRecord{
		AttachmentID: 1, Format: models.FormatAVIF, OriginalSize: 1000, ConvertedSize: 400, ConvertedAt: now.Add(-48 * time.Hour),
	}))

	stats, err := repo.Statistics(ctx, StatisticsFilter{})
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byFormat := map[models.Format]FormatStatistics{}
	for _, s := range stats {
		byFormat[s.Format] = s
	}
	assert.Equal(t, int64(2), byFormat[models.FormatWebP].Count)
	assert.Equal(t, int64(3000), byFormat[models.FormatWebP].OriginalSize)
	assert.Equal(t, int64(1600), byFormat[models.FormatWebP].ConvertedSize)
	webpStats := byFormat[models.FormatWebP]
	assert.InDelta(t, 0.4667, webpStats.Reduction(), 0.001)

	t.Run("format filter", func(t *testing.T) {
		stats, err := repo.Statistics(ctx, StatisticsFilter{Formats: []models.Format{models.FormatAVIF}})
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, models.FormatAVIF, stats[0].Format)
	})

	t.Run("date filter", func(t *testing.T) {
		stats, err := repo.Statistics(ctx, StatisticsFilter{Since: now.Add(-time.Hour)})
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, models.FormatWebP, stats[0].Format)
	})
}

func TestFormatStatistics_ReductionZeroOriginal(t *testing.T) {
	s := FormatStatistics{Format: models.FormatWebP, Count: 1, OriginalSize: 0, ConvertedSize: 100}
	assert.Zero(t, s.Reduction())
}
