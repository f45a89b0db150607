package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/optipress/optipress/internal/models"
)

// extensionMIMEs maps recognized source extensions to their MIME type.
var extensionMIMEs = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
}

// SourceMIME returns the MIME type for a source path by extension.
func SourceMIME(path string) (string, bool) {
	mime, ok := extensionMIMEs[strings.ToLower(filepath.Ext(path))]
	return mime, ok
}

// validateSource fails fast on structurally invalid calls: a missing
// source, an unrecognized extension, or a missing destination directory.
// No encoder is invoked when validation fails.
func validateSource(sourcePath string, media models.MediaType, destinations map[models.Format]string) error {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("source file %s: %w", sourcePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("source %s is a directory", sourcePath)
	}

	mime, ok := SourceMIME(sourcePath)
	if !ok || !models.IsConvertibleMIME(mime, media) {
		return fmt.Errorf("%w: %s is not a supported %s source", models.ErrUnsupportedInput, sourcePath, media)
	}

	if len(destinations) == 0 {
		return fmt.Errorf("no destination paths given")
	}
	for format, dst := range destinations {
		if format.MediaType() != media {
			return fmt.Errorf("%w: format %s is not a %s format", models.ErrUnsupportedInput, format, media)
		}
		dir := filepath.Dir(dst)
		dirInfo, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("destination directory %s: %w", dir, err)
		}
		if !dirInfo.IsDir() {
			return fmt.Errorf("destination %s is not inside a directory", dst)
		}
	}

	return nil
}

// verifyArtifact confirms a produced artifact exists and is non-empty.
func verifyArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact %s is empty", path)
	}
	return nil
}
