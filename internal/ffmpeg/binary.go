// Package ffmpeg provides FFmpeg binary detection and encode invocation.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/optipress/optipress/internal/util"
)

// BinaryInfo contains information about the FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string   `json:"ffmpeg_path"`
	FFprobePath  string   `json:"ffprobe_path,omitempty"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
}

// HasEncoder reports whether the installation offers the named encoder.
func (i *BinaryInfo) HasEncoder(name string) bool {
	for _, e := range i.Encoders {
		if e == name {
			return true
		}
	}
	return false
}

// BinaryDetector handles detection and caching of the FFmpeg binary.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
	binaryPath   string
	probePath    string
}

// NewBinaryDetector creates a new binary detector. Explicit paths override
// auto-detection; empty strings fall back to the OPTIPRESS_FFMPEG_BINARY
// environment variable and then PATH.
func NewBinaryDetector(binaryPath, probePath string) *BinaryDetector {
	return &BinaryDetector{
		cacheTTL:   5 * time.Minute,
		binaryPath: binaryPath,
		probePath:  probePath,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect detects the FFmpeg binary and its encoder capabilities.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

// detect performs the actual binary detection.
func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath := d.binaryPath
	if ffmpegPath == "" {
		var err error
		ffmpegPath, err = util.FindBinary("ffmpeg", "OPTIPRESS_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
	}
	info.FFmpegPath = ffmpegPath

	// ffprobe is optional; conversions work without source probing.
	probePath := d.probePath
	if probePath == "" {
		probePath, _ = util.FindBinary("ffprobe", "OPTIPRESS_FFPROBE_BINARY")
	}
	info.FFprobePath = probePath

	// A failed or hung -version probe means the binary is unusable.
	version, err := d.getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version = version.Full
	info.MajorVersion = version.Major
	info.MinorVersion = version.Minor

	encoders, err := d.getEncoders(ctx, ffmpegPath)
	if err == nil {
		info.Encoders = encoders
	}

	return info, nil
}

// versionInfo holds parsed version information.
type versionInfo struct {
	Full  string
	Major int
	Minor int
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// getVersion extracts version information from ffmpeg -version output.
func (d *BinaryDetector) getVersion(ctx context.Context, ffmpegPath string) (*versionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	info := &versionInfo{}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "ffmpeg version") {
			// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n6.0-2-g..."
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				info.Full = parts[2]
				matches := versionRegex.FindStringSubmatch(parts[2])
				if len(matches) >= 3 {
					info.Major, _ = strconv.Atoi(matches[1])
					info.Minor, _ = strconv.Atoi(matches[2])
				}
			}
			break
		}
	}

	if info.Full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}

	return info, nil
}

// getEncoders retrieves available encoder names.
func (d *BinaryDetector) getEncoders(ctx context.Context, ffmpegPath string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	return parseEncoders(string(output)), nil
}

// parseEncoders parses ffmpeg -encoders output into encoder names.
func parseEncoders(output string) []string {
	var encoders []string
	inEncoderList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inEncoderList = true
			continue
		}
		if !inEncoderList {
			continue
		}

		// Format: "V....D encoder_name description"
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) >= 2 {
			encoders = append(encoders, fields[1])
		}
	}

	return encoders
}
