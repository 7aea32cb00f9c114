package api

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

// IncidentView is the JSON shape of an incident on the read API.
type IncidentView struct {
	ID          string    `json:"id"`
	ResourceID  string    `json:"resource_id"`
	MetricName  string    `json:"metric_name"`
	Value       float64   `json:"value"`
	ObservedAt  time.Time `json:"observed_at"`
	AnomalyKind string    `json:"anomaly_kind"`
	IsCritical  bool      `json:"is_critical"`
	Evidence    []string  `json:"evidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToIncidentView converts a stored record, turning the fixed-point value into a JSON number.
func ToIncidentView(rec models.IncidentRecord) IncidentView {
	evidence := rec.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	return IncidentView{
		ID:          rec.ID,
		ResourceID:  rec.ResourceID,
		MetricName:  rec.MetricName,
		Value:       models.ToAPIValue(rec.Value),
		ObservedAt:  rec.ObservedAt.UTC(),
		AnomalyKind: rec.AnomalyKind,
		IsCritical:  rec.IsCritical,
		Evidence:    evidence,
		CreatedAt:   rec.CreatedAt.UTC(),
	}
}

// SortNewestFirst orders records by observed_at descending, breaking ties by id.
func SortNewestFirst(records []models.IncidentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].ObservedAt.Equal(records[j].ObservedAt) {
			return records[i].ObservedAt.After(records[j].ObservedAt)
		}
		return records[i].ID < records[j].ID
	})
}

func toViews(records []models.IncidentRecord) []IncidentView {
	out := make([]IncidentView, 0, len(records))
	for _, rec := range records {
		out = append(out, ToIncidentView(rec))
	}
	return out
}
