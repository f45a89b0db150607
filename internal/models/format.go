package models

import (
	"fmt"
	"strings"
)

// MediaType classifies an attachment for quota and conversion purposes.
type MediaType string

const (
	// MediaTypeImage covers raster image attachments.
	MediaTypeImage MediaType = "image"
	// MediaTypeVideo covers video attachments.
	MediaTypeVideo MediaType = "video"
)

// Format is a conversion target format. The set is closed: two image
// formats and two video formats.
type Format string

const (
	// FormatWebP is the legacy-friendly modern image format.
	FormatWebP Format = "webp"
	// FormatAVIF is the most-compressed modern image format.
	FormatAVIF Format = "avif"
	// FormatAV1 is AV1 video in an MP4 container.
	FormatAV1 Format = "av1"
	// FormatWebM is VP9 video in a WebM container.
	FormatWebM Format = "webm"
)

// ImageFormats lists the image target formats in fallback order,
// most-compressed first.
func ImageFormats() []Format {
	return []Format{FormatAVIF, FormatWebP}
}

// VideoFormats lists the video target formats in fallback order,
// most-compressed first.
func VideoFormats() []Format {
	return []Format{FormatAV1, FormatWebM}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatWebP:
		return FormatWebP, nil
	case FormatAVIF:
		return FormatAVIF, nil
	case FormatAV1:
		return FormatAV1, nil
	case FormatWebM:
		return FormatWebM, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// MediaType returns the media class the format belongs to.
func (f Format) MediaType() MediaType {
	switch f {
	case FormatAV1, FormatWebM:
		return MediaTypeVideo
	default:
		return MediaTypeImage
	}
}

// Extension returns the file extension used for converted artifacts,
// without the leading dot. A source name.ext converts to name.<Extension>.
func (f Format) Extension() string {
	switch f {
	case FormatAV1:
		return "mp4"
	default:
		return string(f)
	}
}

// MIMEType returns the delivery MIME type for the format.
func (f Format) MIMEType() string {
	switch f {
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	case FormatAV1:
		return `video/mp4; codecs="av01.0.05M.08"`
	case FormatWebM:
		return "video/webm"
	}
	return ""
}

// SourceMIMEType returns the MIME type advertised on a <source> element.
// Video codecs parameters confuse some consumers, so only the container
// type is used there for video.
func (f Format) SourceMIMEType() string {
	if f == FormatAV1 {
		return "video/mp4"
	}
	return f.MIMEType()
}

// imageSourceMIMEs are the source MIME types eligible for image conversion.
var imageSourceMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// videoSourceMIMEs are the source MIME types eligible for video conversion.
var videoSourceMIMEs = map[string]bool{
	"video/mp4":       true,
	"video/quicktime": true,
	"video/x-msvideo": true,
	"video/x-matroska": true,
	"video/mpeg":      true,
}

// IsConvertibleMIME reports whether a source MIME type is eligible for
// conversion to formats of the given media class.
func IsConvertibleMIME(mime string, media MediaType) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if media == MediaTypeVideo {
		return videoSourceMIMEs[mime]
	}
	return imageSourceMIMEs[mime]
}

// MediaTypeForMIME classifies a MIME type, returning false when the type
// is neither a convertible image nor a convertible video.
func MediaTypeForMIME(mime string) (MediaType, bool) {
	switch {
	case IsConvertibleMIME(mime, MediaTypeImage):
		return MediaTypeImage, true
	case IsConvertibleMIME(mime, MediaTypeVideo):
		return MediaTypeVideo, true
	}
	return "", false
}
