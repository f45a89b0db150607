// Package gifdetect classifies GIF files as animated or static.
package gifdetect

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
)

// gifMagic starts every GIF87a/GIF89a stream.
var gifMagic = []byte("GIF")

// imageSeparator introduces each image descriptor in a GIF stream.
const imageSeparator = 0x2C

// FrameCounter counts the frames of an image file. Implemented by the
// libvips adapter and the ffprobe prober.
type FrameCounter interface {
	Available() bool
	CountFrames(path string) (int, error)
}

// Detector decides whether a GIF holds more than one frame. The frame
// counter is consulted first; when it is unavailable or fails the
// detector falls back to scanning the raw bytes.
type Detector struct {
	counter FrameCounter
	logger  *slog.Logger
}

// NewDetector creates a detector. The counter may be nil, in which case
// only the byte scan is used.
func NewDetector(counter FrameCounter) *Detector {
	return &Detector{
		counter: counter,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (d *Detector) WithLogger(logger *slog.Logger) *Detector {
	d.logger = logger
	return d
}

// IsAnimated reports whether the file at path is an animated GIF. A file
// that is not a GIF at all classifies as not animated without error.
func (d *Detector) IsAnimated(path string) (bool, error) {
	if d.counter != nil && d.counter.Available() {
		frames, err := d.counter.CountFrames(path)
		if err == nil {
			return frames > 1, nil
		}
		d.logger.Debug("frame count failed, falling back to byte scan",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return scanFile(path)
}

// scanFile applies the raw byte fallback: a valid GIF header followed by
// more than one image separator byte means multiple frames.
func scanFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return scan(f)
}

func scan(r io.Reader) (bool, error) {
	header := make([]byte, len(gifMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	if !bytes.Equal(header, gifMagic) {
		// Not a GIF. Callers gate on MIME sniffing upstream, so a
		// mismatch here is a classification, not an error.
		return false, nil
	}

	separators := 0
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		separators += bytes.Count(buf[:n], []byte{imageSeparator})
		if separators > 1 {
			return true, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}
	}
}
