// Package convert produces encoded artifacts from source media files.
package convert

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/optipress/optipress/internal/config"
	"github.com/optipress/optipress/internal/models"
)

// Result is the outcome of one Process call. Per-format failures are
// collected in Errors and never abort sibling formats; Success is true
// when at least one requested format was produced.
type Result struct {
	Success          bool            `json:"success"`
	ConvertedFormats []models.Format `json:"converted_formats"`
	ConvertedFiles   FileSet         `json:"converted_files"`
	Errors           []string        `json:"errors,omitempty"`
}

// Partial reports whether some formats succeeded and some failed.
func (r *Result) Partial() bool {
	return r.Success && len(r.Errors) > 0
}

// addSuccess records a produced artifact.
func (r *Result) addSuccess(format models.Format, path string) {
	r.Success = true
	r.ConvertedFormats = append(r.ConvertedFormats, format)
	if r.ConvertedFiles == nil {
		r.ConvertedFiles = FileSet{}
	}
	r.ConvertedFiles[format] = path
}

// addError records a per-format failure.
func (r *Result) addError(format models.Format, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", format, err))
}

// FileSet maps a format to the destination path of its artifact.
type FileSet map[models.Format]string

// Formats returns the formats present in the set, most-modern first.
func (s FileSet) Formats(media models.MediaType) []models.Format {
	var order []models.Format
	if media == models.MediaTypeVideo {
		order = models.VideoFormats()
	} else {
		order = models.ImageFormats()
	}
	var out []models.Format
	for _, f := range order {
		if _, ok := s[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Settings carries per-format encoder parameters, populated from
// configuration defaults and overridden per key by caller options.
type Settings struct {
	WebPQuality int
	AVIFQuality int
	AVIFSpeed   int
	VideoCRF    int
	VideoPreset int
	Hybrid      bool
}

// SettingsFromConfig builds Settings from the conversion configuration.
func SettingsFromConfig(cfg config.ConvertConfig) Settings {
	return Settings{
		WebPQuality: cfg.WebPQuality,
		AVIFQuality: cfg.AVIFQuality,
		AVIFSpeed:   cfg.AVIFSpeed,
		VideoCRF:    cfg.VideoCRF,
		VideoPreset: cfg.VideoPreset,
		Hybrid:      cfg.Hybrid,
	}
}

// Options overrides individual Settings keys. Nil fields keep defaults;
// overrides never replace the default set wholesale.
type Options struct {
	WebPQuality *int
	AVIFQuality *int
	AVIFSpeed   *int
	VideoCRF    *int
	VideoPreset *int
}

// Apply returns a copy of the settings with the option overrides merged in.
func (o *Options) Apply(s Settings) Settings {
	if o == nil {
		return s
	}
	if o.WebPQuality != nil {
		s.WebPQuality = *o.WebPQuality
	}
	if o.AVIFQuality != nil {
		s.AVIFQuality = *o.AVIFQuality
	}
	if o.AVIFSpeed != nil {
		s.AVIFSpeed = *o.AVIFSpeed
	}
	if o.VideoCRF != nil {
		s.VideoCRF = *o.VideoCRF
	}
	if o.VideoPreset != nil {
		s.VideoPreset = *o.VideoPreset
	}
	return s
}

// ArtifactPath returns the destination path for a source file converted to
// the given format: name.ext becomes name.<format extension> alongside the
// source. Render-time URL substitution depends on this convention.
func ArtifactPath(sourcePath string, format models.Format) string {
	ext := filepath.Ext(sourcePath)
	return strings.TrimSuffix(sourcePath, ext) + "." + format.Extension()
}
