package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxEvidence bounds the log lines kept on an incident.
const MaxEvidence = 5

// IncidentRecord is the durable, immutable record written for every processed anomaly.
type IncidentRecord struct {
	ID          string
	ResourceID  string
	MetricName  string
	Value       decimal.Decimal
	ObservedAt  time.Time
	AnomalyKind string
	IsCritical  bool
	Evidence    []string
	CreatedAt   time.Time
}

// NewIncidentRecord flattens an event into a record, keeping at most MaxEvidence lines.
func NewIncidentRecord(id string, ev AnomalyEvent, evidence []string, createdAt time.Time) IncidentRecord {
	return IncidentRecord{
		ID:          id,
		ResourceID:  ev.ResourceID,
		MetricName:  ev.MetricName,
		Value:       decimal.NewFromFloat(ev.Value),
		ObservedAt:  ev.ObservedAt.UTC(),
		AnomalyKind: ev.AnomalyKind,
		IsCritical:  len(evidence) > 0,
		Evidence:    TruncateEvidence(evidence),
		CreatedAt:   createdAt.UTC(),
	}
}

// TruncateEvidence returns a copy of the first MaxEvidence lines. The result is never nil.
func TruncateEvidence(lines []string) []string {
	n := len(lines)
	if n > MaxEvidence {
		n = MaxEvidence
	}
	out := make([]string, n)
	copy(out, lines[:n])
	return out
}

// ToAPIValue converts the stored fixed-point value into the float64 exposed by the read API.
// It is total: every decimal maps to the nearest float64.
func ToAPIValue(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
