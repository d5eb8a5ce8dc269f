// CLAUDE:SUMMARY CSS length to pixel conversion: absolute unit table at 96 DPI, vw/vh/% resolved against a viewBox.
// Package cssunit converts CSS length values and SVG viewBox tokens into
// integer pixel counts. Absolute units use the 96 DPI table; the relative
// units vw, vh and % resolve against a viewBox dimension and fail hard
// without one. All conversions round up, so a rasterized surface is never
// smaller than the box it was measured for.
package cssunit

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrViewBoxRequired is returned when a relative unit (vw, vh, %) is
// resolved without a viewBox dimension. Callers are expected to check for
// a viewBox before asking for a relative conversion.
var ErrViewBoxRequired = errors.New("cssunit: relative unit requires a viewBox")

// ErrBadValue is returned for values that do not parse as a number.
var ErrBadValue = errors.New("cssunit: invalid numeric value")

// relativeUnits are the units that only make sense against a viewBox.
var relativeUnits = map[string]bool{"vw": true, "vh": true, "%": true}

// IsRelative reports whether unit needs a viewBox to resolve.
func IsRelative(unit string) bool {
	return relativeUnits[unit]
}

// Ratio returns the multiplier converting one unit to pixels at 96 DPI.
// Unknown or empty units behave like px (ratio 1).
func Ratio(unit string) float64 {
	switch unit {
	case "px", "":
		return 1
	case "pt":
		return 4.0 / 3.0
	case "in":
		return 96
	case "cm":
		return 96 / 2.54
	case "mm":
		return 96 / 2.54 / 10
	case "pc":
		return 16
	case "ex":
		return 8
	default:
		return 1
	}
}

// ToPx converts an absolute length to a ceiling-rounded pixel count.
// Relative units return ErrViewBoxRequired; use RelativeToPx for those.
func ToPx(value, unit string) (int, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadValue, value)
	}
	if IsRelative(unit) {
		return 0, fmt.Errorf("%w: %q", ErrViewBoxRequired, unit)
	}
	return int(math.Ceil(v * Ratio(unit))), nil
}

// RelativeToPx converts a vw/vh/% length against the given viewBox
// dimension. Non-relative units fall back to the absolute table.
func RelativeToPx(value, unit string, vbDimension float64) (int, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadValue, value)
	}
	if IsRelative(unit) {
		return int(math.Ceil(v / 100 * vbDimension)), nil
	}
	return ToPx(value, unit)
}

// Resolve converts one dimension, routing between the absolute table and
// the viewBox-relative path. vb is nil when no viewBox is present; a
// relative unit without a viewBox is a contract violation and errors.
func Resolve(value, unit string, vb *float64) (int, error) {
	if IsRelative(unit) {
		if vb == nil {
			return 0, fmt.Errorf("%w: %q", ErrViewBoxRequired, unit)
		}
		return RelativeToPx(value, unit, *vb)
	}
	return ToPx(value, unit)
}

// ParseViewBox extracts width and height from an SVG viewBox attribute
// ("min-x min-y width height", whitespace and/or comma separated).
// A missing or malformed viewBox returns ok=false: absence is a normal,
// recoverable condition, distinct from relative-unit misuse.
func ParseViewBox(s string) (width, height float64, ok bool) {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) != 4 {
		return 0, 0, false
	}
	w, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, 0, false
	}
	h, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return 0, 0, false
	}
	return w, h, true
}

// SplitLength separates a CSS length into numeric value and unit suffix,
// e.g. "100vw" -> ("100", "vw"), "12.5" -> ("12.5", ""). Returns ok=false
// if the string does not start with a signed decimal number.
func SplitLength(s string) (value, unit string, ok bool) {
	s = strings.TrimSpace(s)
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
			i++
			digits++
		}
	}
	if digits == 0 {
		return "", "", false
	}
	return s[:i], s[i:], true
}
