package models

import (
	"errors"
	"time"
)

// ErrLogSourceNotFound is returned by log stores when a resource has no log source.
var ErrLogSourceNotFound = errors.New("log source not found")

// Resource is a monitored compute instance returned by the inventory.
type Resource struct {
	ID    string            `json:"id"`
	Name  string            `json:"name,omitempty"`
	State string            `json:"state,omitempty"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// Selector filters the inventory by tag and lifecycle state.
type Selector struct {
	TagKey   string
	TagValue string
	State    string
}

// MetricQuery asks a metric store for one aggregated series.
type MetricQuery struct {
	ResourceID string
	MetricName string
	Period     time.Duration
	Start      time.Time
	End        time.Time
}

// LogQuery asks a log store for keyword-matching lines in [Start, End].
type LogQuery struct {
	Source     string
	ResourceID string
	Start      time.Time
	End        time.Time
	Keywords   []string
}

// LogLine is one message returned by a log store.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}
