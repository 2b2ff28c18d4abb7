package server

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseOptionalTime accepts RFC3339 or a bare date in the station's location.
// A bare end date covers the whole day.
func parseOptionalTime(value string, endOfDay bool, loc *time.Location) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if parsed, err := time.ParseInLocation(dateOnlyLayout, trimmed, loc); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), loc)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

// parseTimeRange reads start_at/end_at, with from/to as aliases.
func parseTimeRange(startValue, fromValue, endValue, toValue string, loc *time.Location) (*time.Time, *time.Time, error) {
	if strings.TrimSpace(startValue) == "" {
		startValue = fromValue
	}
	if strings.TrimSpace(endValue) == "" {
		endValue = toValue
	}

	startAt, err := parseOptionalTime(startValue, false, loc)
	if err != nil {
		return nil, nil, newValidationError("start_at", "invalid_start_at", "invalid start_at")
	}
	endAt, err := parseOptionalTime(endValue, true, loc)
	if err != nil {
		return nil, nil, newValidationError("end_at", "invalid_end_at", "invalid end_at")
	}
	if startAt != nil && endAt != nil && endAt.Before(*startAt) {
		return nil, nil, newValidationError("end_at", "invalid_time_range", "end_at is before start_at")
	}
	return startAt, endAt, nil
}
