package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/sampler"
	"github.com/miradorstack/mirador-aiops/internal/transport"
)

type fakeInventory struct {
	resources []models.Resource
	err       error
	sel       models.Selector
}

func (f *fakeInventory) ListResources(_ context.Context, sel models.Selector) ([]models.Resource, error) {
	f.sel = sel
	return f.resources, f.err
}

func resources(ids ...string) []models.Resource {
	out := make([]models.Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Resource{ID: id, State: "running"})
	}
	return out
}

type fakeSampler struct {
	mu      sync.Mutex
	samples map[string][]models.Sample
	errs    map[string]error
	windows []sampler.Window
}

func (f *fakeSampler) Sample(_ context.Context, resourceID string, w sampler.Window, _ sampler.Order) ([]models.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
	if err := f.errs[resourceID]; err != nil {
		return nil, err
	}
	return f.samples[resourceID], nil
}

// thresholdClassifier flags values at or above limit.
type thresholdClassifier struct {
	limit    float64
	disabled bool
	failOn   float64
}

func (c thresholdClassifier) Enabled() bool { return !c.disabled }

func (c thresholdClassifier) Err() error {
	if c.disabled {
		return errors.New("model missing")
	}
	return nil
}

func (c thresholdClassifier) Classify(v float64) (models.Verdict, error) {
	if c.failOn != 0 && v == c.failOn {
		return models.VerdictNormal, errors.New("classifier exploded")
	}
	if v >= c.limit {
		return models.VerdictOutlier, nil
	}
	return models.VerdictNormal, nil
}

type published struct {
	topic string
	msg   transport.Message
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, msg transport.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, msg: msg})
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type fakeEvidence struct {
	lines map[string][]string
}

func (f fakeEvidence) Find(_ context.Context, resourceID string, _ time.Time) []string {
	if lines, ok := f.lines[resourceID]; ok {
		return lines
	}
	return []string{}
}

type fakeStore struct {
	mu      sync.Mutex
	records []models.IncidentRecord
	err     error
}

func (s *fakeStore) Put(_ context.Context, rec models.IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

type fakeController struct {
	calls []string
	err   error
}

func (c *fakeController) Restart(_ context.Context, id string) error {
	c.calls = append(c.calls, id)
	return c.err
}
