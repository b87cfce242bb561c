package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatTimestamp renders seconds as M:SS — minutes unpadded, seconds
// zero-padded. This is the display format burned into frame overlays and
// returned by the search API.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	minutes := int(math.Floor(seconds / 60))
	secs := int(math.Floor(math.Mod(seconds, 60)))
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// ParseTimestamp is the inverse of FormatTimestamp to the nearest second.
func ParseTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid timestamp format: %q", s)
	}
	minutes, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in timestamp %q: %w", s, err)
	}
	secs, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in timestamp %q: %w", s, err)
	}
	if secs < 0 || secs > 59 || minutes < 0 {
		return 0, fmt.Errorf("timestamp out of range: %q", s)
	}
	return float64(minutes*60 + secs), nil
}
