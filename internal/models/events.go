package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AnomalyEvent is emitted by the detection stage for every outlier sample.
type AnomalyEvent struct {
	ResourceID  string    `json:"resource_id"`
	MetricName  string    `json:"metric_name"`
	Value       float64   `json:"value"`
	ObservedAt  time.Time `json:"observed_at"`
	AnomalyKind string    `json:"anomaly_kind"`
}

// Validate rejects events that cannot be traced back to a real sample.
func (e AnomalyEvent) Validate(now time.Time) error {
	if strings.TrimSpace(e.ResourceID) == "" {
		return errors.New("resource_id is required")
	}
	if e.ObservedAt.IsZero() {
		return errors.New("observed_at is required")
	}
	if e.ObservedAt.After(now) {
		return fmt.Errorf("observed_at %s is in the future", e.ObservedAt.Format(time.RFC3339))
	}
	return nil
}

// Sample is a single (timestamp, value) pair of a utilization metric.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Verdict is the outcome of classifying one sample.
type Verdict int

const (
	VerdictNormal Verdict = iota
	VerdictOutlier
)

func (v Verdict) String() string {
	switch v {
	case VerdictOutlier:
		return "outlier"
	default:
		return "normal"
	}
}
