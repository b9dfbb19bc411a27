// Package units converts the raw (value, unit) pairs found in a health
// export into the SI-ish targets the rest of the pipeline stores: energy in
// kilojoules, distance in metres, duration in seconds. Unknown units are
// left unconverted; callers decide whether that warrants a diagnostic.
package units

import "strings"

// Energy converts value expressed in unit to kilojoules. ok is false when
// unit is not recognised, in which case value is returned unchanged.
func Energy(value float64, unit string) (kj float64, ok bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "kcal", "cal":
		return value * 4184 / 1000, true
	case "kj":
		return value, true
	default:
		return value, false
	}
}

// Distance converts value expressed in unit to metres.
func Distance(value float64, unit string) (metres float64, ok bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "km":
		return value * 1000, true
	case "mi", "mile", "miles":
		return value * 1609.344, true
	case "m", "meter", "meters", "metre", "metres":
		return value, true
	default:
		return value, false
	}
}

// Duration converts value expressed in unit to seconds.
func Duration(value float64, unit string) (seconds float64, ok bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "min", "minute", "minutes":
		return value * 60, true
	case "hr", "hour", "hours":
		return value * 3600, true
	case "s", "sec", "second", "seconds":
		return value, true
	default:
		return value, false
	}
}
