package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/optipress/optipress/internal/models"
)

// VipsLibrary wraps govips as the in-process image backend. It implements
// the probe's ImageLibrary query surface and the image engine's encoder.
type VipsLibrary struct {
	mu          sync.Mutex
	initialized bool
	available   bool
	avif        bool
	logger      *slog.Logger
}

// NewVipsLibrary creates the libvips adapter. Startup must be called
// before use.
func NewVipsLibrary(logger *slog.Logger) *VipsLibrary {
	if logger == nil {
		logger = slog.Default()
	}
	return &VipsLibrary{logger: logger}
}

// Startup initializes libvips once per process with conservative memory
// settings and queries export support.
func (v *VipsLibrary) Startup() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.initialized {
		return
	}
	v.initialized = true

	logger := v.logger
	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		switch {
		case level <= vips.LogLevelError:
			logger.Error("libvips", slog.String("domain", domain), slog.String("msg", msg))
		case level == vips.LogLevelWarning:
			logger.Warn("libvips", slog.String("domain", domain), slog.String("msg", msg))
		default:
			logger.Debug("libvips", slog.String("domain", domain), slog.String("msg", msg))
		}
	}, vips.LogLevelWarning)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	v.available = true
	v.avif = v.probeAvif()
	v.logger.Info("libvips initialized",
		slog.String("version", vips.Version),
		slog.Bool("avif", v.avif))
}

// Shutdown releases libvips resources.
func (v *VipsLibrary) Shutdown() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.available {
		vips.Shutdown()
		v.available = false
	}
}

// probeAvif checks whether this libvips build carries an AVIF encoder by
// exporting a 1x1 black pixel in memory. No user data is touched.
func (v *VipsLibrary) probeAvif() bool {
	img, err := vips.Black(1, 1)
	if err != nil {
		return false
	}
	defer img.Close()

	params := vips.NewAvifExportParams()
	params.Quality = 50
	_, _, err = img.ExportAvif(params)
	return err == nil
}

// Available reports whether libvips initialized successfully.
func (v *VipsLibrary) Available() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.available
}

// Version returns the libvips version string.
func (v *VipsLibrary) Version() string {
	return vips.Version
}

// SupportsFormat reports whether libvips can export the format.
func (v *VipsLibrary) SupportsFormat(format models.Format) bool {
	switch format {
	case models.FormatWebP:
		return v.Available()
	case models.FormatAVIF:
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.available && v.avif
	}
	return false
}

// EncodeWebP exports a source image as WebP at the given quality percent.
func (v *VipsLibrary) EncodeWebP(ctx context.Context, src, dst string, quality int) error {
	img, err := v.load(ctx, src)
	if err != nil {
		return err
	}
	defer img.Close()

	params := vips.NewWebpExportParams()
	params.Quality = quality
	params.StripMetadata = true

	data, _, err := img.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("vips webp export: %w", err)
	}
	return writeArtifact(dst, data)
}

// EncodeAVIF exports a source image as AVIF. Speed is the encoder effort
// (0 slowest, 9 fastest).
func (v *VipsLibrary) EncodeAVIF(ctx context.Context, src, dst string, quality, speed int) error {
	img, err := v.load(ctx, src)
	if err != nil {
		return err
	}
	defer img.Close()

	params := vips.NewAvifExportParams()
	params.Quality = quality
	params.Effort = invertEffort(speed)
	params.StripMetadata = true

	data, _, err := img.ExportAvif(params)
	if err != nil {
		return fmt.Errorf("vips avif export: %w", err)
	}
	return writeArtifact(dst, data)
}

// CountFrames returns the number of frames in an image file. Animated
// sources load all pages so the page count is accurate.
func (v *VipsLibrary) CountFrames(path string) (int, error) {
	if !v.Available() {
		return 0, fmt.Errorf("libvips not available")
	}

	params := vips.NewImportParams()
	params.NumPages.Set(-1)

	img, err := vips.LoadImageFromFile(path, params)
	if err != nil {
		return 0, fmt.Errorf("vips load: %w", err)
	}
	defer img.Close()

	return img.Pages(), nil
}

// load opens a source image, honoring context cancellation before the
// decode starts.
func (v *VipsLibrary) load(ctx context.Context, src string) (*vips.ImageRef, error) {
	if !v.Available() {
		return nil, fmt.Errorf("libvips not available")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := vips.LoadImageFromFile(src, vips.NewImportParams())
	if err != nil {
		return nil, fmt.Errorf("vips load: %w", err)
	}
	return img, nil
}

// writeArtifact writes encoded bytes to the destination path.
func writeArtifact(dst string, data []byte) error {
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	return nil
}

// invertEffort maps a speed value (higher = faster) onto the vips effort
// scale (higher = slower, 0-9).
func invertEffort(speed int) int {
	if speed < 0 {
		speed = 0
	}
	if speed > 9 {
		speed = 9
	}
	return 9 - speed
}
