package convert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/optipress/optipress/internal/ffmpeg"
	"github.com/optipress/optipress/internal/models"
	"github.com/optipress/optipress/internal/probe"
)

// VideoRunner is the subprocess surface the video engine drives.
// Implemented by the ffmpeg runner; faked in tests.
type VideoRunner interface {
	EncodeAV1(ctx context.Context, encoder, src, dst string, crf, preset int) error
	EncodeWebM(ctx context.Context, src, dst string, crf int) error
}

// VideoEngine transcodes videos to modern formats through ffmpeg.
type VideoEngine struct {
	runner     VideoRunner
	capability *probe.Capability
	defaults   Settings
	logger     *slog.Logger
}

// NewVideoEngine creates a video engine for the probed capability.
func NewVideoEngine(runner VideoRunner, capability *probe.Capability, defaults Settings) *VideoEngine {
	return &VideoEngine{
		runner:     runner,
		capability: capability,
		defaults:   defaults,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger.
func (e *VideoEngine) WithLogger(logger *slog.Logger) *VideoEngine {
	e.logger = logger
	return e
}

// Process transcodes one source video into every requested destination
// format, isolating per-format failures the same way the image engine
// does. Encoding is a blocking subprocess call per format.
func (e *VideoEngine) Process(ctx context.Context, sourcePath string, destinations map[models.Format]string, opts *Options) (*Result, error) {
	if err := validateSource(sourcePath, models.MediaTypeVideo, destinations); err != nil {
		return nil, err
	}

	settings := opts.Apply(e.defaults)
	result := &Result{}

	for _, format := range models.VideoFormats() {
		dst, wanted := destinations[format]
		if !wanted {
			continue
		}

		if e.capability == nil || !e.capability.Supports(format) {
			e.logger.Debug("video format skipped, no encoder support",
				slog.String("format", string(format)))
			result.addError(format, models.ErrProcessorUnavailable)
			continue
		}

		if err := e.encodeOne(ctx, format, sourcePath, dst, settings); err != nil {
			e.logger.Warn("video conversion failed",
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

func (e *VideoEngine) encodeOne(ctx context.Context, format models.Format, src, dst string, s Settings) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encoder panic: %v", r)
		}
	}()

	switch format {
	case models.FormatAV1:
		encoder := e.capability.AV1Encoder
		if encoder == "" {
			encoder = ffmpeg.EncoderSVTAV1
		}
		err = e.runner.EncodeAV1(ctx, encoder, src, dst, s.VideoCRF, s.VideoPreset)
	case models.FormatWebM:
		err = e.runner.EncodeWebM(ctx, src, dst, s.VideoCRF)
	default:
		return fmt.Errorf("%w: %s is not a video format", models.ErrUnsupportedInput, format)
	}
	if err != nil {
		return err
	}
	return verifyArtifact(dst)
}

func (e *VideoEngine) logOutcome(sourcePath string, result *Result) {
	switch {
	case result.Partial():
		e.logger.Info("video converted partially",
			slog.String("source", sourcePath),
			slog.Any("formats", result.ConvertedFormats),
			slog.Any("errors", result.Errors))
	case result.Success:
		e.logger.Info("video converted",
			slog.String("source", sourcePath),
			slog.Any("formats", result.ConvertedFormats))
	default:
		e.logger.Warn("video conversion produced no artifacts",
			slog.String("source", sourcePath),
			slog.Any("errors", result.Errors))
	}
}
