// Package timecode converts the human readable timestamps a client supplies
// for clip bounds ("1:30", "1:02:03", "45") in to seconds.
package timecode

import (
	"strconv"
	"strings"
)

// Parse converts a time string of the form "S", "M:SS" or "H:MM:SS" to
// a number of seconds. Any input which does not match one of these forms
// (including empty strings, negative or non-integer components, and more
// than three components) yields 0.
func Parse(timestamp string) float64 {
	timestamp = strings.TrimSpace(timestamp)
	if timestamp == "" {
		return 0
	}

	parts := strings.Split(timestamp, ":")
	if len(parts) > 3 {
		return 0
	}

	total := 0
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return 0
		}

		total = total*60 + v
	}

	return float64(total)
}
