package utils

import (
	"fmt"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses RFC3339 timestamps and the zone-less ISO forms emitted by
// older producers. Zone-less values are taken as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported format", value)
}

// Millis converts a timestamp into epoch milliseconds, the unit log stores filter on.
func Millis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
