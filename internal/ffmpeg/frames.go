package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// frameProbeTimeout caps how long one frame-count query may take.
const frameProbeTimeout = 30 * time.Second

// FrameProber counts the frames of a media file through ffprobe. It
// backs the animated-GIF gate when libvips is unavailable.
type FrameProber struct {
	ffprobePath string
	logger      *slog.Logger
}

// NewFrameProber creates a prober for the given ffprobe binary. An
// empty path yields an unavailable prober.
func NewFrameProber(ffprobePath string) *FrameProber {
	return &FrameProber{
		ffprobePath: ffprobePath,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger.
func (p *FrameProber) WithLogger(logger *slog.Logger) *FrameProber {
	p.logger = logger
	return p
}

// Available reports whether an ffprobe binary was found.
func (p *FrameProber) Available() bool {
	return p.ffprobePath != ""
}

// CountFrames returns the packet count of the first video stream.
// Packets map one-to-one onto frames for GIF without decoding them.
func (p *FrameProber) CountFrames(path string) (int, error) {
	if p.ffprobePath == "" {
		return 0, fmt.Errorf("ffprobe not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.ffprobePath, frameCountArgs(path)...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseFrameCount(out)
}

func frameCountArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "default=nokey=1:noprint_wrappers=1",
		path,
	}
}

func parseFrameCount(output []byte) (int, error) {
	text := strings.TrimSpace(string(output))
	if text == "" {
		return 0, fmt.Errorf("ffprobe reported no video stream")
	}
	count, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("ffprobe frame count %q: %w", text, err)
	}
	return count, nil
}
