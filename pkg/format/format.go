// Package format renders durations, counts and schedules for humans.
// Everything here returns plain strings suitable for terminal output,
// log attributes and report templates alike.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MMSS renders a video timestamp as MM:SS, rounded to the nearest second.
// Timestamps of an hour or more roll into the minutes field, so 3660
// seconds becomes "61:00". Negative and non-finite values clamp to zero.
func MMSS(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(math.Round(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Seconds renders a duration in seconds with one decimal, e.g. "12.3s".
func Seconds(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	return fmt.Sprintf("%.1fs", seconds)
}

// Percentage renders a percentage with the given number of decimals.
func Percentage(value float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, value)
}

var printer = message.NewPrinter(language.English)

// Number renders an integer with thousand separators, e.g. "1,234,567".
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Bytes renders a byte count with a binary-prefix unit, e.g. "1.5 KB".
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	value := float64(n)
	suffixes := [...]string{"KB", "MB", "GB", "TB", "PB"}
	i := -1
	for value >= unit && i < len(suffixes)-1 {
		value /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", value, suffixes[i])
}

// CronDescription describes a 6-field cron expression (seconds minutes
// hours day-of-month month day-of-week) in plain English. It covers the
// common interval, hourly and daily shapes; anything else is returned
// unchanged.
func CronDescription(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) < 6 {
		return expr
	}
	sec, min, hour := fields[0], fields[1], fields[2]

	switch {
	case stepOf(sec) > 0:
		return fmt.Sprintf("Every %d seconds", stepOf(sec))
	case stepOf(min) > 0:
		return fmt.Sprintf("Every %d minutes", stepOf(min))
	case stepOf(hour) == 1:
		return "Every hour"
	case stepOf(hour) > 0:
		return fmt.Sprintf("Every %d hours", stepOf(hour))
	}

	if hour == "*" {
		if min == "*" {
			return "Every minute"
		}
		if m, err := strconv.Atoi(min); err == nil {
			if m == 0 {
				return "Every hour"
			}
			return fmt.Sprintf("Every hour at :%02d", m)
		}
	}

	if h, err := strconv.Atoi(hour); err == nil {
		if m, err := strconv.Atoi(min); err == nil {
			return fmt.Sprintf("Daily at %02d:%02d", h, m)
		}
	}
	return strings.Join(fields, " ")
}

// stepOf extracts N from a cron step field like "*/N" or "5/N",
// returning 0 when the field has no step.
func stepOf(field string) int {
	_, step, ok := strings.Cut(field, "/")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(step)
	if err != nil {
		return 0
	}
	return n
}
