package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Encoder names queried against ffmpeg -encoders before use.
const (
	EncoderWebP   = "libwebp"
	EncoderAOMAV1 = "libaom-av1"
	EncoderSVTAV1 = "libsvtav1"
	EncoderVP9    = "libvpx-vp9"
	EncoderOpus   = "libopus"
)

// Runner invokes ffmpeg encodes as blocking subprocess calls.
type Runner struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewRunner creates a Runner for the given ffmpeg binary.
func NewRunner(ffmpegPath string) *Runner {
	return &Runner{
		ffmpegPath: ffmpegPath,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// EncodeWebP converts a still image to WebP at the given quality percent.
func (r *Runner) EncodeWebP(ctx context.Context, src, dst string, quality int) error {
	args := []string{
		"-y", "-i", src,
		"-c:v", EncoderWebP,
		"-quality", strconv.Itoa(quality),
		"-frames:v", "1",
		dst,
	}
	return r.run(ctx, args)
}

// EncodeAVIF converts a still image to AVIF. Quality percent is mapped onto
// the AV1 CRF scale (0 best, 63 worst); speed is the cpu-used effort.
func (r *Runner) EncodeAVIF(ctx context.Context, src, dst string, quality, speed int) error {
	crf := avifCRF(quality)
	args := []string{
		"-y", "-i", src,
		"-c:v", EncoderAOMAV1,
		"-crf", strconv.Itoa(crf),
		"-cpu-used", strconv.Itoa(speed),
		"-still-picture", "1",
		"-frames:v", "1",
		dst,
	}
	return r.run(ctx, args)
}

// EncodeAV1 transcodes video to AV1 in MP4. The encoder argument selects
// libsvtav1 or libaom-av1 depending on what the installation offers.
func (r *Runner) EncodeAV1(ctx context.Context, encoder, src, dst string, crf, preset int) error {
	args := []string{
		"-y", "-i", src,
		"-c:v", encoder,
		"-crf", strconv.Itoa(crf),
	}
	switch encoder {
	case EncoderSVTAV1:
		args = append(args, "-preset", strconv.Itoa(preset))
	case EncoderAOMAV1:
		args = append(args, "-cpu-used", strconv.Itoa(clampSpeed(preset)))
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-f", "mp4",
		dst,
	)
	return r.run(ctx, args)
}

// EncodeWebM transcodes video to VP9 in WebM.
func (r *Runner) EncodeWebM(ctx context.Context, src, dst string, crf int) error {
	args := []string{
		"-y", "-i", src,
		"-c:v", EncoderVP9,
		"-crf", strconv.Itoa(crf),
		"-b:v", "0",
		"-row-mt", "1",
		"-c:a", EncoderOpus,
		"-b:a", "128k",
		"-f", "webm",
		dst,
	}
	return r.run(ctx, args)
}

// run executes ffmpeg with the given arguments and reports failure with the
// tail of stderr for diagnosis.
func (r *Runner) run(ctx context.Context, args []string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-nostdin"}, args...)

	r.logger.Debug("invoking ffmpeg",
		slog.String("binary", r.ffmpegPath),
		slog.String("args", strings.Join(full, " ")))

	cmd := exec.CommandContext(ctx, r.ffmpegPath, full...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, stderrTail(output))
	}
	return nil
}

// stderrTail returns the last few lines of encoder output.
func stderrTail(output []byte) string {
	const maxLines = 5
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "; ")
}

// avifCRF maps a quality percentage onto the AV1 CRF scale.
func avifCRF(quality int) int {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return (100 - quality) * 63 / 100
}

// clampSpeed bounds an SVT-AV1-style preset into libaom's cpu-used range.
func clampSpeed(preset int) int {
	if preset < 0 {
		return 0
	}
	if preset > 8 {
		return 8
	}
	return preset
}
