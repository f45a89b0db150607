package models

import "fmt"

// AttachmentMeta mirrors the host system's per-attachment metadata that
// the resolver and backfill sweep need: where the file lives relative to
// the uploads root, what it is, and how it is addressed externally.
// Rows are written by the host-event ingestion layer and read-only to
// the conversion core.
type AttachmentMeta struct {
	BaseModel

	// AttachmentID is the host system's numeric attachment identifier.
	AttachmentID int64 `gorm:"not null;uniqueIndex" json:"attachment_id"`

	// RelativePath is the storage path relative to the uploads root,
	// e.g. "2024/01/img.jpg".
	RelativePath string `gorm:"not null;size:1024;index" json:"relative_path"`

	// MIMEType is the declared MIME type of the source file.
	MIMEType string `gorm:"not null;size:100" json:"mime_type"`

	// Width and Height are pixel dimensions for images, 0 for video.
	Width  int `gorm:"default:0" json:"width,omitempty"`
	Height int `gorm:"default:0" json:"height,omitempty"`

	// CDNURL is the externally rewritten URL for the attachment, when a
	// CDN rewrites delivery URLs. Empty when no CDN is in front.
	CDNURL string `gorm:"size:2048;index" json:"cdn_url,omitempty"`
}

// TableName returns the table name for AttachmentMeta.
func (AttachmentMeta) TableName() string {
	return "attachment_meta"
}

// Validate checks the metadata row for required fields.
func (a *AttachmentMeta) Validate() error {
	if a.AttachmentID <= 0 {
		return fmt.Errorf("%w: attachment id must be positive", ErrValidation)
	}
	if a.RelativePath == "" {
		return fmt.Errorf("%w: relative path is required", ErrValidation)
	}
	return nil
}

// MediaType classifies the attachment by its MIME type.
func (a *AttachmentMeta) MediaType() (MediaType, bool) {
	return MediaTypeForMIME(a.MIMEType)
}
