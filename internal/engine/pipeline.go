// Package engine holds the three pipeline stages: detection, root cause analysis and
// remediation. Stages share no in-process state; they meet only at the transport and
// the incident store.
package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/sampler"
	"github.com/miradorstack/mirador-aiops/internal/transport"
)

var tracer = otel.Tracer("github.com/miradorstack/mirador-aiops/internal/engine")

// Inventory enumerates monitored resources.
type Inventory interface {
	ListResources(ctx context.Context, sel models.Selector) ([]models.Resource, error)
}

// Sampler reads a metric window for one resource.
type Sampler interface {
	Sample(ctx context.Context, resourceID string, w sampler.Window, order sampler.Order) ([]models.Sample, error)
}

// Classifier labels a single sample value.
type Classifier interface {
	Enabled() bool
	Err() error
	Classify(value float64) (models.Verdict, error)
}

// EvidenceFinder returns corroborating log lines preceding an anomaly. It never fails.
type EvidenceFinder interface {
	Find(ctx context.Context, resourceID string, at time.Time) []string
}

// IncidentWriter persists one incident record per call.
type IncidentWriter interface {
	Put(ctx context.Context, rec models.IncidentRecord) error
}

// ResourceController performs corrective actions on compute resources.
type ResourceController interface {
	Restart(ctx context.Context, resourceID string) error
}

// Publisher hands messages to the inter-stage transport.
type Publisher = transport.Publisher
