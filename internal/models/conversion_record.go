package models

import (
	"fmt"
	"time"
)

// ConversionRecord is the durable fact that an attachment has been
// converted to a target format. At most one record exists per
// (attachment_id, format) pair; re-conversion updates the existing row.
type ConversionRecord struct {
	BaseModel

	// AttachmentID is the host system's numeric attachment identifier.
	AttachmentID int64 `gorm:"not null;index;uniqueIndex:idx_attachment_format" json:"attachment_id"`

	// Format is the conversion target format.
	Format Format `gorm:"not null;size:10;index;uniqueIndex:idx_attachment_format" json:"format"`

	// OriginalSize is the source file size in bytes at conversion time.
	OriginalSize int64 `gorm:"not null;default:0" json:"original_size"`

	// ConvertedSize is the produced artifact size in bytes.
	ConvertedSize int64 `gorm:"not null;default:0" json:"converted_size"`

	// ConvertedAt is the timestamp of the most recent conversion.
	ConvertedAt time.Time `gorm:"not null;index" json:"converted_at"`
}

// TableName returns the table name for ConversionRecord.
func (ConversionRecord) TableName() string {
	return "conversion_records"
}

// Validate checks the record for required fields.
func (r *ConversionRecord) Validate() error {
	if r.AttachmentID <= 0 {
		return fmt.Errorf("%w: attachment id must be positive", ErrValidation)
	}
	if _, err := ParseFormat(string(r.Format)); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Reduction returns the fractional size reduction achieved by the
// conversion. Returns 0 when the original size is unknown.
func (r *ConversionRecord) Reduction() float64 {
	if r.OriginalSize <= 0 {
		return 0
	}
	return float64(r.OriginalSize-r.ConvertedSize) / float64(r.OriginalSize)
}
