package models

import (
	"fmt"
	"time"
)

// QuotaUnlimited is the sentinel limit meaning no admission cap.
const QuotaUnlimited = -1

// QuotaPeriodKey returns the period key for a point in time. Quota is
// metered per calendar month.
func QuotaPeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// QuotaCounter tracks conversion usage for one media class within one
// period. used_count only grows inside a period; a new period starts a
// fresh counter.
type QuotaCounter struct {
	BaseModel

	// MediaType is the media class the counter applies to.
	MediaType MediaType `gorm:"not null;size:10;uniqueIndex:idx_media_period" json:"media_type"`

	// Period is the calendar period key, e.g. "2026-09".
	Period string `gorm:"not null;size:10;uniqueIndex:idx_media_period" json:"period"`

	// Used is the number of artifacts produced within the period.
	Used int64 `gorm:"not null;default:0" json:"used"`

	// Limit is the admission cap for the period. QuotaUnlimited disables
	// the cap.
	Limit int64 `gorm:"column:quota_limit;not null;default:-1" json:"limit"`
}

// TableName returns the table name for QuotaCounter.
func (QuotaCounter) TableName() string {
	return "quota_counters"
}

// Validate checks the counter for required fields.
func (q *QuotaCounter) Validate() error {
	if q.MediaType != MediaTypeImage && q.MediaType != MediaTypeVideo {
		return fmt.Errorf("%w: invalid media type %q", ErrValidation, q.MediaType)
	}
	if q.Period == "" {
		return fmt.Errorf("%w: period is required", ErrValidation)
	}
	return nil
}

// HasCapacity reports whether another artifact may be admitted.
func (q *QuotaCounter) HasCapacity() bool {
	return q.Limit == QuotaUnlimited || q.Used < q.Limit
}

// Remaining returns the number of artifacts still admissible, or
// QuotaUnlimited when uncapped.
func (q *QuotaCounter) Remaining() int64 {
	if q.Limit == QuotaUnlimited {
		return QuotaUnlimited
	}
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}
