package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "webp", want: FormatWebP},
		{input: "avif", want: FormatAVIF},
		{input: "av1", want: FormatAV1},
		{input: "webm", want: FormatWebM},
		{input: "WebP", want: FormatWebP},
		{input: "AV1", want: FormatAV1},
		{input: "jpeg", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMediaType(t *testing.T) {
	assert.Equal(t, MediaTypeImage, FormatWebP.MediaType())
	assert.Equal(t, MediaTypeImage, FormatAVIF.MediaType())
	assert.Equal(t, MediaTypeVideo, FormatAV1.MediaType())
	assert.Equal(t, MediaTypeVideo, FormatWebM.MediaType())
}

func TestFormatExtension(t *testing.T) {
	// AV1 ships in an MP4 container, everything else matches its name.
	assert.Equal(t, "mp4", FormatAV1.Extension())
	assert.Equal(t, "webp", FormatWebP.Extension())
	assert.Equal(t, "avif", FormatAVIF.Extension())
	assert.Equal(t, "webm", FormatWebM.Extension())
}

func TestFormatSourceMIMEType(t *testing.T) {
	// Source elements carry only the container type for AV1; the codecs
	// parameter stays out of delivery markup.
	assert.Equal(t, "video/mp4", FormatAV1.SourceMIMEType())
	assert.Contains(t, FormatAV1.MIMEType(), "codecs=")
	assert.Equal(t, "image/avif", FormatAVIF.SourceMIMEType())
	assert.Equal(t, "video/webm", FormatWebM.SourceMIMEType())
}

func TestFallbackOrder(t *testing.T) {
	// Most-compressed format first so the browser picks the smallest
	// source it supports.
	assert.Equal(t, []Format{FormatAVIF, FormatWebP}, ImageFormats())
	assert.Equal(t, []Format{FormatAV1, FormatWebM}, VideoFormats())
}

func TestMediaTypeForMIME(t *testing.T) {
	tests := []struct {
		mime  string
		want  MediaType
		wantOK bool
	}{
		{mime: "image/jpeg", want: MediaTypeImage, wantOK: true},
		{mime: "image/png", want: MediaTypeImage, wantOK: true},
		{mime: "image/gif", want: MediaTypeImage, wantOK: true},
		{mime: "video/mp4", want: MediaTypeVideo, wantOK: true},
		{mime: "video/quicktime", want: MediaTypeVideo, wantOK: true},
		{mime: "  VIDEO/MP4  ", want: MediaTypeVideo, wantOK: true},
		{mime: "image/svg+xml"},
		{mime: "image/webp"},
		{mime: "application/pdf"},
		{mime: ""},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got, ok := MediaTypeForMIME(tt.mime)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuotaPeriodKey(t *testing.T) {
	assert.Equal(t, "2026-09", QuotaPeriodKey(time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)))

	// Period boundaries are UTC regardless of the input zone.
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2026-09", QuotaPeriodKey(time.Date(2026, 8, 31, 23, 30, 0, 0, est)))
}

func TestQuotaCounterCapacity(t *testing.T) {
	unlimited := QuotaCounter{MediaType: MediaTypeImage, Period: "2026-09", Limit: QuotaUnlimited, Used: 1_000_000}
	assert.True(t, unlimited.HasCapacity())
	assert.Equal(t, int64(QuotaUnlimited), unlimited.Remaining())

	capped := QuotaCounter{MediaType: MediaTypeVideo, Period: "2026-09", Limit: 5, Used: 4}
	assert.True(t, capped.HasCapacity())
	assert.Equal(t, int64(1), capped.Remaining())

	full := QuotaCounter{MediaType: MediaTypeVideo, Period: "2026-09", Limit: 5, Used: 5}
	assert.False(t, full.HasCapacity())
	assert.Equal(t, int64(0), full.Remaining())
}

func TestQuotaCounterValidate(t *testing.T) {
	valid := QuotaCounter{MediaType: MediaTypeImage, Period: "2026-09"}
	assert.NoError(t, valid.Validate())

	badMedia := QuotaCounter{MediaType: "audio", Period: "2026-09"}
	assert.ErrorIs(t, badMedia.Validate(), ErrValidation)

	noPeriod := QuotaCounter{MediaType: MediaTypeImage}
	assert.ErrorIs(t, noPeriod.Validate(), ErrValidation)
}
