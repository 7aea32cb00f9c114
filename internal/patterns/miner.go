// Package patterns mines recurring incident hotspots from the incident history.
package patterns

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

// Hotspot aggregates the incidents recorded for one resource.
type Hotspot struct {
	ResourceID  string    `json:"resource_id"`
	Incidents   int       `json:"incidents"`
	Critical    int       `json:"critical"`
	Prevalence  float64   `json:"prevalence"`
	LastSeen    time.Time `json:"last_seen"`
	TopEvidence []string  `json:"top_evidence,omitempty"`
}

// Miner mines frequency-based hotspots from incident records.
type Miner struct {
	evidenceLimit int
}

// NewMiner constructs a Miner that keeps up to evidenceLimit recurring log lines per hotspot.
func NewMiner(evidenceLimit int) *Miner {
	if evidenceLimit <= 0 {
		evidenceLimit = 3
	}
	return &Miner{evidenceLimit: evidenceLimit}
}

// Mine groups records by resource, ordering hotspots by incident count then recency.
func (m *Miner) Mine(records []models.IncidentRecord) []Hotspot {
	if len(records) == 0 {
		return nil
	}

	stats := make(map[string]*resourceAggregate)
	for _, rec := range records {
		agg := ensureAggregate(stats, rec.ResourceID)
		agg.count++
		if rec.IsCritical {
			agg.critical++
		}
		if rec.ObservedAt.After(agg.lastSeen) {
			agg.lastSeen = rec.ObservedAt
		}
		seen := make(map[string]struct{}, len(rec.Evidence))
		for _, line := range rec.Evidence {
			if _, dup := seen[line]; dup || line == "" {
				continue
			}
			seen[line] = struct{}{}
			agg.evidenceCounts[line]++
		}
	}

	hotspots := make([]Hotspot, 0, len(stats))
	for resource, agg := range stats {
		hotspots = append(hotspots, Hotspot{
			ResourceID:  resource,
			Incidents:   agg.count,
			Critical:    agg.critical,
			Prevalence:  float64(agg.count) / float64(len(records)),
			LastSeen:    agg.lastSeen,
			TopEvidence: agg.topEvidence(m.evidenceLimit),
		})
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Incidents != hotspots[j].Incidents {
			return hotspots[i].Incidents > hotspots[j].Incidents
		}
		if !hotspots[i].LastSeen.Equal(hotspots[j].LastSeen) {
			return hotspots[i].LastSeen.After(hotspots[j].LastSeen)
		}
		return hotspots[i].ResourceID < hotspots[j].ResourceID
	})
	return hotspots
}

type resourceAggregate struct {
	count          int
	critical       int
	lastSeen       time.Time
	evidenceCounts map[string]int
}

func ensureAggregate(m map[string]*resourceAggregate, resource string) *resourceAggregate {
	if resource == "" {
		resource = "unknown"
	}
	agg, ok := m[resource]
	if !ok {
		agg = &resourceAggregate{evidenceCounts: make(map[string]int)}
		m[resource] = agg
	}
	return agg
}

func (agg *resourceAggregate) topEvidence(limit int) []string {
	lines := make([]string, 0, len(agg.evidenceCounts))
	for line := range agg.evidenceCounts {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool {
		ci, cj := agg.evidenceCounts[lines[i]], agg.evidenceCounts[lines[j]]
		if ci != cj {
			return ci > cj
		}
		return lines[i] < lines[j]
	})
	if len(lines) > limit {
		lines = lines[:limit]
	}
	return lines
}
