// Package probe determines which encoder backends are usable and which
// target formats they support, without performing any conversion.
// Absence of a backend is a capability fact, not an error.
package probe

import (
	"context"
	"log/slog"
	"sync"

	"github.com/optipress/optipress/internal/ffmpeg"
	"github.com/optipress/optipress/internal/models"
)

// ProcessorKind identifies an encoder backend.
type ProcessorKind string

const (
	// ProcessorVips is the in-process libvips image backend.
	ProcessorVips ProcessorKind = "vips"
	// ProcessorFFmpeg is the external ffmpeg binary backend.
	ProcessorFFmpeg ProcessorKind = "ffmpeg"
)

// Capability describes one usable backend and the target formats it
// supports. Computed once and treated as immutable afterwards.
type Capability struct {
	Kind    ProcessorKind   `json:"kind"`
	Version string          `json:"version"`
	Formats []models.Format `json:"formats"`

	// AV1Encoder is the concrete ffmpeg encoder chosen for AV1 output,
	// set only on video capabilities.
	AV1Encoder string `json:"av1_encoder,omitempty"`
}

// Supports reports whether the backend supports the given format.
func (c *Capability) Supports(format models.Format) bool {
	for _, f := range c.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// SupportsAll reports whether the backend supports every given format.
func (c *Capability) SupportsAll(formats []models.Format) bool {
	for _, f := range formats {
		if !c.Supports(f) {
			return false
		}
	}
	return true
}

// SupportsAny reports whether the backend supports at least one format.
func (c *Capability) SupportsAny(formats []models.Format) bool {
	for _, f := range formats {
		if c.Supports(f) {
			return true
		}
	}
	return false
}

// ImageLibrary is the query surface of the in-process image backend.
// Implemented by the libvips adapter in the convert package.
type ImageLibrary interface {
	// Available reports whether the library initialized successfully.
	Available() bool
	// Version returns the library version string.
	Version() string
	// SupportsFormat reports whether the library can export the format.
	SupportsFormat(format models.Format) bool
}

// Probe queries encoder backends and caches the result for the process
// lifetime.
type Probe struct {
	imageLib ImageLibrary
	detector *ffmpeg.BinaryDetector
	logger   *slog.Logger

	mu       sync.Mutex
	imageCap *Capability
	imageSet bool
	videoCap *Capability
	videoSet bool
}

// New creates a Probe. imageLib may be nil when no in-process image
// library is linked; detector may be nil to disable the ffmpeg backend.
func New(imageLib ImageLibrary, detector *ffmpeg.BinaryDetector) *Probe {
	return &Probe{
		imageLib: imageLib,
		detector: detector,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (p *Probe) WithLogger(logger *slog.Logger) *Probe {
	p.logger = logger
	return p
}

// DetectImageProcessor selects the image backend for the given target
// formats. The in-process library is preferred when it supports every
// target; a backend supporting only part of the set is used when nothing
// better exists. Returns nil when no backend supports any target.
func (p *Probe) DetectImageProcessor(ctx context.Context, targets []models.Format) *Capability {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.imageSet {
		return p.imageCap
	}

	candidates := p.imageCandidates(ctx, targets)

	// Selection is a pure preference walk over queried capabilities:
	// full support wins, partial support is the fallback.
	var selected *Capability
	for _, c := range candidates {
		if c.SupportsAll(targets) {
			selected = c
			break
		}
	}
	if selected == nil {
		for _, c := range candidates {
			if c.SupportsAny(targets) {
				selected = c
				break
			}
		}
	}

	if selected == nil {
		p.logger.Warn("no image processor supports any target format")
	} else {
		p.logger.Info("image processor selected",
			slog.String("kind", string(selected.Kind)),
			slog.String("version", selected.Version),
			slog.Any("formats", selected.Formats))
	}

	p.imageCap = selected
	p.imageSet = true
	return selected
}

// imageCandidates queries the image backends in preference order.
func (p *Probe) imageCandidates(ctx context.Context, targets []models.Format) []*Capability {
	var candidates []*Capability

	if p.imageLib != nil && p.imageLib.Available() {
		var formats []models.Format
		for _, f := range models.ImageFormats() {
			if p.imageLib.SupportsFormat(f) {
				formats = append(formats, f)
			}
		}
		if len(formats) > 0 {
			candidates = append(candidates, &Capability{
				Kind:    ProcessorVips,
				Version: p.imageLib.Version(),
				Formats: formats,
			})
		}
	}

	if info := p.ffmpegInfo(ctx); info != nil {
		var formats []models.Format
		if info.HasEncoder(ffmpeg.EncoderWebP) {
			formats = append(formats, models.FormatWebP)
		}
		if info.HasEncoder(ffmpeg.EncoderAOMAV1) {
			formats = append(formats, models.FormatAVIF)
		}
		if len(formats) > 0 {
			candidates = append(candidates, &Capability{
				Kind:    ProcessorFFmpeg,
				Version: info.Version,
				Formats: formats,
			})
		}
	}

	return candidates
}

// DetectVideoProcessor queries the ffmpeg backend for video targets.
// Returns a capability only when the binary is invocable and supports at
// least one of the targets; nil otherwise.
func (p *Probe) DetectVideoProcessor(ctx context.Context, targets []models.Format) *Capability {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.videoSet {
		return p.videoCap
	}
	p.videoSet = true

	info := p.ffmpegInfo(ctx)
	if info == nil {
		p.logger.Warn("no video processor available")
		return nil
	}

	cap := &Capability{
		Kind:    ProcessorFFmpeg,
		Version: info.Version,
	}
	switch {
	case info.HasEncoder(ffmpeg.EncoderSVTAV1):
		cap.Formats = append(cap.Formats, models.FormatAV1)
		cap.AV1Encoder = ffmpeg.EncoderSVTAV1
	case info.HasEncoder(ffmpeg.EncoderAOMAV1):
		cap.Formats = append(cap.Formats, models.FormatAV1)
		cap.AV1Encoder = ffmpeg.EncoderAOMAV1
	}
	if info.HasEncoder(ffmpeg.EncoderVP9) {
		cap.Formats = append(cap.Formats, models.FormatWebM)
	}

	if !cap.SupportsAny(targets) {
		p.logger.Warn("video processor supports none of the target formats",
			slog.Any("targets", targets))
		return nil
	}

	p.logger.Info("video processor selected",
		slog.String("version", cap.Version),
		slog.Any("formats", cap.Formats),
		slog.String("av1_encoder", cap.AV1Encoder))

	p.videoCap = cap
	return cap
}

// ffmpegInfo detects the ffmpeg binary, treating failure as absence.
func (p *Probe) ffmpegInfo(ctx context.Context) *ffmpeg.BinaryInfo {
	if p.detector == nil {
		return nil
	}
	info, err := p.detector.Detect(ctx)
	if err != nil {
		p.logger.Debug("ffmpeg not available", slog.String("error", err.Error()))
		return nil
	}
	return info
}
