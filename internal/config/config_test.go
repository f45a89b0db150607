package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
storage:
  uploads_dir: /var/www/uploads
  base_url: https://example.com/wp-content/uploads
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "optipress.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, []string{"webp", "avif"}, cfg.Convert.ImageFormats)
	assert.Equal(t, []string{"av1", "webm"}, cfg.Convert.VideoFormats)
	assert.True(t, cfg.Convert.Hybrid)
	assert.False(t, cfg.Convert.ConvertAnimated)
	assert.Equal(t, 82, cfg.Convert.WebPQuality)
	assert.Equal(t, 60, cfg.Convert.AVIFQuality)
	assert.Equal(t, 32, cfg.Convert.VideoCRF)
	assert.Equal(t, 2, cfg.Convert.Workers)
	assert.Equal(t, "*/15 * * * *", cfg.Convert.SweepSchedule)
	assert.Equal(t, 20, cfg.Convert.SweepBatchSize)

	assert.Equal(t, int64(-1), cfg.Quota.ImageLimit)
	assert.Equal(t, int64(-1), cfg.Quota.VideoLimit)
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
convert:
  hybrid: false
  image_formats: [webp]
  webp_quality: 70
  convert_animated: true
quota:
  image_limit: 500
`))
	require.NoError(t, err)

	assert.False(t, cfg.Convert.Hybrid)
	assert.Equal(t, []string{"webp"}, cfg.Convert.ImageFormats)
	assert.Equal(t, 70, cfg.Convert.WebPQuality)
	assert.True(t, cfg.Convert.ConvertAnimated)
	assert.Equal(t, int64(500), cfg.Quota.ImageLimit)
	// Untouched sections keep their defaults.
	assert.Equal(t, int64(-1), cfg.Quota.VideoLimit)
	assert.Equal(t, []string{"av1", "webm"}, cfg.Convert.VideoFormats)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("OPTIPRESS_CONVERT_WEBP_QUALITY", "55")
	t.Setenv("OPTIPRESS_QUOTA_VIDEO_LIMIT", "10")
	t.Setenv("OPTIPRESS_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 55, cfg.Convert.WebPQuality)
	assert.Equal(t, int64(10), cfg.Quota.VideoLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMaxSourceSizeHumanReadable(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
convert:
  max_source_size: 64MB
`))
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024*1024), cfg.Convert.MaxSourceSize.Int64())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:    "missing uploads dir",
			mutate:  func(c *Config) { c.Storage.UploadsDir = "" },
			wantErr: "uploads_dir is required",
		},
		{
			name:    "relative uploads dir",
			mutate:  func(c *Config) { c.Storage.UploadsDir = "wp-content/uploads" },
			wantErr: "absolute path",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "unknown image format",
			mutate:  func(c *Config) { c.Convert.ImageFormats = []string{"jpeg2000"} },
			wantErr: "image_formats",
		},
		{
			name:    "unknown video format",
			mutate:  func(c *Config) { c.Convert.VideoFormats = []string{"h264"} },
			wantErr: "video_formats",
		},
		{
			name:    "quality out of range",
			mutate:  func(c *Config) { c.Convert.WebPQuality = 101 },
			wantErr: "webp_quality",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Convert.Workers = 0 },
			wantErr: "workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Storage.UploadsDir = "/var/www/uploads"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultsSkipsValidation(t *testing.T) {
	cfg := Defaults()
	// Defaults alone are not a runnable config: the uploads root must
	// come from the operator.
	assert.Empty(t, cfg.Storage.UploadsDir)
	assert.Error(t, cfg.Validate())
}
