// Package bytesize parses and formats human-readable byte sizes using
// binary (1024) units. It covers B through TB, which is the range a
// media uploads tree can plausibly occupy.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

// descending order, so Format picks the largest fitting unit.
var units = []struct {
	suffix string
	factor Size
}{
	{"TB", TB},
	{"GB", GB},
	{"MB", MB},
	{"KB", KB},
}

// Parse reads a size like "512MB", "1.5 GB", or "2048". A bare number
// is a byte count. Unit suffixes are case-insensitive and accept the
// short ("K") and IEC ("KiB") spellings.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	split := len(trimmed)
	for split > 0 {
		c := trimmed[split-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		split--
	}
	number := strings.TrimSpace(trimmed[:split])
	suffix := strings.TrimSpace(trimmed[split:])

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid size %q", s)
	}

	factor, err := unitFactor(suffix)
	if err != nil {
		return 0, err
	}
	return Size(value * float64(factor)), nil
}

func unitFactor(suffix string) (Size, error) {
	normalized := strings.ToUpper(suffix)
	normalized = strings.TrimSuffix(normalized, "IB")
	normalized = strings.TrimSuffix(normalized, "B")
	switch normalized {
	case "":
		return B, nil
	case "K":
		return KB, nil
	case "M":
		return MB, nil
	case "G":
		return GB, nil
	case "T":
		return TB, nil
	}
	return 0, fmt.Errorf("bytesize: unknown unit %q", suffix)
}

// Format renders the size with the largest unit that keeps the value
// at or above one, trimming trailing zeros from fractions.
func Format(s Size) string {
	if s < 0 {
		return "-" + Format(-s)
	}
	for _, unit := range units {
		if s < unit.factor {
			continue
		}
		value := float64(s) / float64(unit.factor)
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d%s", int64(value), unit.suffix)
		}
		text := strconv.FormatFloat(value, 'f', 2, 64)
		text = strings.TrimRight(text, "0")
		text = strings.TrimRight(text, ".")
		return text + unit.suffix
	}
	return fmt.Sprintf("%dB", s)
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}
