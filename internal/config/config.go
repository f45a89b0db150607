// Package config provides configuration management for optipress using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultWebPQuality    = 82
	defaultAVIFQuality    = 60
	defaultAVIFSpeed      = 6
	defaultVideoCRF       = 32
	defaultVideoPreset    = 8
	defaultWorkers        = 2
	defaultSweepBatchSize = 20
	defaultSweepCron      = "*/15 * * * *"
	defaultMaxSourceSize  = 512 * 1024 * 1024
)

// Config holds all configuration for the application.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Convert  ConvertConfig  `mapstructure:"convert"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	LogLevel        string `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig describes the host CMS uploads tree and how it is
// addressed externally.
type StorageConfig struct {
	// UploadsDir is the absolute path of the uploads root on disk.
	UploadsDir string `mapstructure:"uploads_dir"`
	// BaseURL is the public URL of the uploads root,
	// e.g. "https://example.com/wp-content/uploads".
	BaseURL string `mapstructure:"base_url"`
	// CDNHost is an optional CDN hostname that rewrites delivery URLs.
	CDNHost string `mapstructure:"cdn_host"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ConvertConfig holds conversion behavior configuration.
type ConvertConfig struct {
	// ImageFormats are the enabled image target formats (webp, avif).
	ImageFormats []string `mapstructure:"image_formats"`
	// VideoFormats are the enabled video target formats (av1, webm).
	VideoFormats []string `mapstructure:"video_formats"`
	// Hybrid enables producing both target formats for one asset so a
	// fallback chain can be served.
	Hybrid bool `mapstructure:"hybrid"`
	// ConvertAnimated allows animated GIFs into the image pipeline.
	// Off by default: animated sources usually grow when re-encoded
	// frame-by-frame.
	ConvertAnimated bool `mapstructure:"convert_animated"`

	// WebPQuality and AVIFQuality are encode quality percentages.
	WebPQuality int `mapstructure:"webp_quality"`
	AVIFQuality int `mapstructure:"avif_quality"`
	// AVIFSpeed is the AVIF effort setting (0 slowest .. 9 fastest).
	AVIFSpeed int `mapstructure:"avif_speed"`

	// VideoCRF is the constant-rate-factor for video encodes.
	VideoCRF int `mapstructure:"video_crf"`
	// VideoPreset is the encoder speed preset (SVT-AV1 scale, 0-13).
	VideoPreset int `mapstructure:"video_preset"`

	// Workers is the number of video conversion workers.
	Workers int `mapstructure:"workers"`
	// SweepSchedule is the cron expression for the backfill sweep.
	SweepSchedule string `mapstructure:"sweep_schedule"`
	// SweepBatchSize is how many unconverted attachments one sweep
	// pass picks up.
	SweepBatchSize int `mapstructure:"sweep_batch_size"`

	// MaxSourceSize skips sources larger than this.
	// Supports human-readable values like "512MB", or raw byte counts.
	MaxSourceSize ByteSize `mapstructure:"max_source_size"`
}

// QuotaConfig holds per-media-type monthly conversion limits.
// A limit of -1 means unbounded.
type QuotaConfig struct {
	ImageLimit int64 `mapstructure:"image_limit"`
	VideoLimit int64 `mapstructure:"video_limit"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/optipress")
		v.AddConfigPath("$HOME/.optipress")
	}

	v.SetEnvPrefix("OPTIPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeWithTextUnmarshaler); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Defaults returns a Config populated with the built-in defaults only,
// skipping file, environment, and validation. Used for config dumps.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg, decodeWithTextUnmarshaler)
	return &cfg
}

// decodeWithTextUnmarshaler extends viper's default decode hooks so
// types like ByteSize can parse string values ("512MB").
var decodeWithTextUnmarshaler = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	mapstructure.TextUnmarshallerHookFunc(),
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
))

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are
// in place.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "optipress.db")
	v.SetDefault("database.max_open_conns", 6)
	v.SetDefault("database.max_idle_conns", 3)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.uploads_dir", "")
	v.SetDefault("storage.base_url", "")
	v.SetDefault("storage.cdn_host", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	// Conversion defaults
	v.SetDefault("convert.image_formats", []string{"webp", "avif"})
	v.SetDefault("convert.video_formats", []string{"av1", "webm"})
	v.SetDefault("convert.hybrid", true)
	v.SetDefault("convert.convert_animated", false)
	v.SetDefault("convert.webp_quality", defaultWebPQuality)
	v.SetDefault("convert.avif_quality", defaultAVIFQuality)
	v.SetDefault("convert.avif_speed", defaultAVIFSpeed)
	v.SetDefault("convert.video_crf", defaultVideoCRF)
	v.SetDefault("convert.video_preset", defaultVideoPreset)
	v.SetDefault("convert.workers", defaultWorkers)
	v.SetDefault("convert.sweep_schedule", defaultSweepCron)
	v.SetDefault("convert.sweep_batch_size", defaultSweepBatchSize)
	v.SetDefault("convert.max_source_size", defaultMaxSourceSize)

	// Quota defaults: unbounded
	v.SetDefault("quota.image_limit", -1)
	v.SetDefault("quota.video_limit", -1)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.UploadsDir == "" {
		return fmt.Errorf("storage.uploads_dir is required")
	}
	if !filepath.IsAbs(c.Storage.UploadsDir) {
		return fmt.Errorf("storage.uploads_dir must be an absolute path")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validImage := map[string]bool{"webp": true, "avif": true}
	for _, f := range c.Convert.ImageFormats {
		if !validImage[f] {
			return fmt.Errorf("convert.image_formats: unknown format %q", f)
		}
	}
	validVideo := map[string]bool{"av1": true, "webm": true}
	for _, f := range c.Convert.VideoFormats {
		if !validVideo[f] {
			return fmt.Errorf("convert.video_formats: unknown format %q", f)
		}
	}

	if c.Convert.WebPQuality < 1 || c.Convert.WebPQuality > 100 {
		return fmt.Errorf("convert.webp_quality must be between 1 and 100")
	}
	if c.Convert.AVIFQuality < 1 || c.Convert.AVIFQuality > 100 {
		return fmt.Errorf("convert.avif_quality must be between 1 and 100")
	}
	if c.Convert.Workers < 1 {
		return fmt.Errorf("convert.workers must be at least 1")
	}
	if c.Convert.SweepBatchSize < 1 {
		return fmt.Errorf("convert.sweep_batch_size must be at least 1")
	}

	return nil
}
