package model

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// ParseClock converts an HH:MM string to minutes since midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// FormatClock converts minutes since midnight to HH:MM.
func FormatClock(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ValidDay reports whether s is a YYYY-MM-DD date.
func ValidDay(s string) bool {
	_, err := time.Parse(dayLayout, s)
	return err == nil
}

// AddDays returns the day n days after s.
func AddDays(s string, n int) (string, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t.AddDate(0, 0, n).Format(dayLayout), nil
}

// Midpoint returns the middle of a working window, the boundary between the
// morning and afternoon half-day slots.
func Midpoint(start, end int) int {
	return start + (end-start)/2
}
