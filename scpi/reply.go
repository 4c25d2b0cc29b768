package scpi

import (
	"math"
	"strconv"
	"strings"
)

// Overload is the value the instrument reports for an open circuit or an out
// of range reading in resistance, diode and continuity modes.
const Overload = 1e9

// IsOverload reports whether v is the overload sentinel.
func IsOverload(v float64) bool {
	return v == Overload
}

// Unquote trims surrounding whitespace and double quotes from a reply line.
func Unquote(line string) string {
	return strings.Trim(strings.TrimSpace(line), `"`)
}

// ParseMeasurement parses a MEAS? reply such as "+1.234560E+01".
// NaN and unparseable input report false.
func ParseMeasurement(line string) (float64, bool) {
	v, err := strconv.ParseFloat(Unquote(line), 64)
	if err != nil || math.IsNaN(v) {
		return math.NaN(), false
	}

	return v, true
}
