package convert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/optipress/optipress/internal/ffmpeg"
	"github.com/optipress/optipress/internal/models"
	"github.com/optipress/optipress/internal/probe"
)

// ImageEncoder is one image backend usable by the engine.
type ImageEncoder interface {
	// Kind identifies the backend for logging.
	Kind() probe.ProcessorKind
	// Supports reports whether the backend can produce the format.
	Supports(format models.Format) bool
	// EncodeWebP produces a WebP artifact at the given quality percent.
	EncodeWebP(ctx context.Context, src, dst string, quality int) error
	// EncodeAVIF produces an AVIF artifact.
	EncodeAVIF(ctx context.Context, src, dst string, quality, speed int) error
}

// ImageEngine converts raster images to modern formats.
type ImageEngine struct {
	encoder  ImageEncoder
	defaults Settings
	logger   *slog.Logger
}

// NewImageEngine creates an image engine around the selected backend.
func NewImageEngine(encoder ImageEncoder, defaults Settings) *ImageEngine {
	return &ImageEngine{
		encoder:  encoder,
		defaults: defaults,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (e *ImageEngine) WithLogger(logger *slog.Logger) *ImageEngine {
	e.logger = logger
	return e
}

// Process converts one source image into every requested destination
// format. One format's failure never aborts its siblings; Success is true
// when at least one artifact was produced. Structurally invalid calls
// (missing source, bad MIME, missing destination directory) fail fast
// before any encoder runs.
func (e *ImageEngine) Process(ctx context.Context, sourcePath string, destinations map[models.Format]string, opts *Options) (*Result, error) {
	if err := validateSource(sourcePath, models.MediaTypeImage, destinations); err != nil {
		return nil, err
	}

	settings := opts.Apply(e.defaults)
	result := &Result{}

	// Stable order keeps logs and partial-failure reporting predictable.
	for _, format := range models.ImageFormats() {
		dst, wanted := destinations[format]
		if !wanted {
			continue
		}

		if e.encoder == nil || !e.encoder.Supports(format) {
			e.logger.Debug("image format skipped, no encoder support",
				slog.String("format", string(format)))
			result.addError(format, models.ErrProcessorUnavailable)
			continue
		}

		if err := e.encodeOne(ctx, format, sourcePath, dst, settings); err != nil {
			e.logger.Warn("image conversion failed",
				slog.String("format", string(format)),
				slog.String("source", sourcePath),
				slog.String("error", err.Error()))
			result.addError(format, err)
			continue
		}

		result.addSuccess(format, dst)
	}

	e.logOutcome(sourcePath, result)
	return result, nil
}

// encodeOne produces a single artifact, converting an encoder panic into
// a reported failure so a misbehaving backend cannot take down siblings.
func (e *ImageEngine) encodeOne(ctx context.Context, format models.Format, src, dst string, s Settings) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encoder panic: %v", r)
		}
	}()

	switch format {
	case models.FormatWebP:
		err = e.encoder.EncodeWebP(ctx, src, dst, s.WebPQuality)
	case models.FormatAVIF:
		err = e.encoder.EncodeAVIF(ctx, src, dst, s.AVIFQuality, s.AVIFSpeed)
	default:
		return fmt.Errorf("%w: %s is not an image format", models.ErrUnsupportedInput, format)
	}
	if err != nil {
		return err
	}
	return verifyArtifact(dst)
}

// logOutcome distinguishes partial success from total failure.
func (e *ImageEngine) logOutcome(sourcePath string, result *Result) {
	switch {
	case result.Partial():
		e.logger.Info("image converted partially",
			slog.String("source", sourcePath),
			slog.Any("formats", result.ConvertedFormats),
			slog.Any("errors", result.Errors))
	case result.Success:
		e.logger.Info("image converted",
			slog.String("source", sourcePath),
			slog.Any("formats", result.ConvertedFormats))
	default:
		e.logger.Warn("image conversion produced no artifacts",
			slog.String("source", sourcePath),
			slog.Any("errors", result.Errors))
	}
}

// vipsEncoder adapts VipsLibrary to the ImageEncoder interface.
type vipsEncoder struct {
	lib *VipsLibrary
}

// NewVipsEncoder wraps the libvips adapter as an image backend.
func NewVipsEncoder(lib *VipsLibrary) ImageEncoder {
	return &vipsEncoder{lib: lib}
}

func (v *vipsEncoder) Kind() probe.ProcessorKind { return probe.ProcessorVips }

func (v *vipsEncoder) Supports(format models.Format) bool {
	return v.lib.SupportsFormat(format)
}

func (v *vipsEncoder) EncodeWebP(ctx context.Context, src, dst string, quality int) error {
	return v.lib.EncodeWebP(ctx, src, dst, quality)
}

func (v *vipsEncoder) EncodeAVIF(ctx context.Context, src, dst string, quality, speed int) error {
	return v.lib.EncodeAVIF(ctx, src, dst, quality, speed)
}

// ffmpegImageEncoder adapts the ffmpeg runner as the secondary image
// backend, used when libvips is absent or lacks a target format.
type ffmpegImageEncoder struct {
	runner     *ffmpeg.Runner
	capability *probe.Capability
}

// NewFFmpegImageEncoder wraps an ffmpeg runner as an image backend.
func NewFFmpegImageEncoder(runner *ffmpeg.Runner, capability *probe.Capability) ImageEncoder {
	return &ffmpegImageEncoder{runner: runner, capability: capability}
}

func (f *ffmpegImageEncoder) Kind() probe.ProcessorKind { return probe.ProcessorFFmpeg }

func (f *ffmpegImageEncoder) Supports(format models.Format) bool {
	return f.capability != nil && f.capability.Supports(format)
}

func (f *ffmpegImageEncoder) EncodeWebP(ctx context.Context, src, dst string, quality int) error {
	return f.runner.EncodeWebP(ctx, src, dst, quality)
}

func (f *ffmpegImageEncoder) EncodeAVIF(ctx context.Context, src, dst string, quality, speed int) error {
	return f.runner.EncodeAVIF(ctx, src, dst, quality, speed)
}
