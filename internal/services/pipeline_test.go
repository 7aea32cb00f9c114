package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/detector"
	"github.com/miradorstack/mirador-aiops/internal/engine"
	"github.com/miradorstack/mirador-aiops/internal/evidence"
	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/sampler"
	"github.com/miradorstack/mirador-aiops/internal/store"
	"github.com/miradorstack/mirador-aiops/internal/transport"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

const (
	anomaliesTopic     = "aiops.anomalies"
	remediationTopic   = "aiops.remediation"
	rcaSubscription    = "aiops-rca"
	remediationSub     = "aiops-remediation"
	testMetricName     = "CPUUtilization"
	testAnomalyKind    = "High CPU Utilization"
	eventuallyDeadline = 2 * time.Second
)

type fakeInventory struct{ ids []string }

func (f fakeInventory) ListResources(context.Context, models.Selector) ([]models.Resource, error) {
	out := make([]models.Resource, 0, len(f.ids))
	for _, id := range f.ids {
		out = append(out, models.Resource{ID: id, State: "running"})
	}
	return out, nil
}

type fakeMetrics struct{ latest map[string]float64 }

func (f fakeMetrics) QueryMetric(_ context.Context, q models.MetricQuery) ([]models.Sample, error) {
	v, ok := f.latest[q.ResourceID]
	if !ok {
		return nil, nil
	}
	return []models.Sample{
		{Timestamp: q.End.Add(-10 * time.Minute), Value: 20},
		{Timestamp: q.End.Add(-time.Minute), Value: v},
	}, nil
}

type fakeLogs struct{ lines map[string][]string }

func (f fakeLogs) FilterLogs(_ context.Context, q models.LogQuery) ([]models.LogLine, error) {
	lines, ok := f.lines[q.ResourceID]
	if !ok {
		return nil, models.ErrLogSourceNotFound
	}
	out := make([]models.LogLine, 0, len(lines))
	for i, l := range lines {
		out = append(out, models.LogLine{Timestamp: q.End.Add(-time.Duration(len(lines)-i) * time.Second), Message: l})
	}
	return out, nil
}

type recordingController struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingController) Restart(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, id)
	return nil
}

func (c *recordingController) restarted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type harness struct {
	bus        *transport.MemoryBus
	store      *store.MemoryStore
	controller *recordingController
	rca        *RCAWorker
	remediate  *RemediationWorker
}

func newHarness(t *testing.T, logs map[string][]string) *harness {
	t.Helper()
	logger := utils.DiscardLogger()
	bus := transport.NewMemoryBus(transport.Bindings{
		rcaSubscription: anomaliesTopic,
		remediationSub:  remediationTopic,
	}, 16, 3, logger)
	t.Cleanup(func() { _ = bus.Close() })

	incidents := store.NewMemoryStore()
	controller := &recordingController{}
	correlator := evidence.NewCorrelator(logger, fakeLogs{lines: logs})
	return &harness{
		bus:        bus,
		store:      incidents,
		controller: controller,
		rca:        NewRCAWorker(logger, engine.NewRCAStage(logger, correlator, incidents, bus, remediationTopic)),
		remediate:  NewRemediationWorker(logger, engine.NewRemediationStage(logger, controller)),
	}
}

func (h *harness) detection(t *testing.T, d *detector.Detector, latest map[string]float64) *engine.DetectionStage {
	t.Helper()
	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	return engine.NewDetectionStage(utils.DiscardLogger(),
		fakeInventory{ids: ids},
		sampler.New(fakeMetrics{latest: latest}, testMetricName),
		d, h.bus,
		engine.DetectionOptions{
			Selector:    models.Selector{TagKey: "Monitored", TagValue: "true", State: "running"},
			MetricName:  testMetricName,
			AnomalyKind: testAnomalyKind,
			Topic:       anomaliesTopic,
		})
}

// consume runs handler on subscription until it has been invoked want times.
func consume(t *testing.T, bus *transport.MemoryBus, subscription string, handler transport.Handler, want int64) {
	t.Helper()
	if want == 0 {
		return
	}
	var handled atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Subscribe(ctx, subscription, func(ctx context.Context, data []byte) error {
			defer handled.Add(1)
			return handler(ctx, data)
		})
	}()

	deadline := time.Now().Add(eventuallyDeadline)
	for handled.Load() < want && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done
	if got := handled.Load(); got < want {
		t.Fatalf("%s: handled %d messages, want %d", subscription, got, want)
	}
}

func zscoreDetector(t *testing.T) *detector.Detector {
	t.Helper()
	model, err := detector.DecodeModel([]byte(`{"kind":"zscore","mean":20,"std_dev":5,"threshold":2.5}`))
	if err != nil {
		t.Fatalf("DecodeModel returned error: %v", err)
	}
	return detector.New(model)
}

func TestPipelineCorroboratedAnomalyIsRemediated(t *testing.T) {
	h := newHarness(t, map[string][]string{
		"i-abc": {"ERROR: disk full", "critical: OOM killed"},
	})

	report, err := h.detection(t, zscoreDetector(t), map[string]float64{"i-abc": 95}).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if report.Anomalies != 1 {
		t.Fatalf("expected one anomaly, got %+v", report)
	}

	consume(t, h.bus, rcaSubscription, h.rca.HandleMessage, 1)
	consume(t, h.bus, remediationSub, h.remediate.HandleMessage, 1)

	records, _ := h.store.Scan(context.Background())
	if len(records) != 1 {
		t.Fatalf("expected one incident, got %d", len(records))
	}
	rec := records[0]
	if !rec.IsCritical || len(rec.Evidence) != 2 || rec.ResourceID != "i-abc" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if models.ToAPIValue(rec.Value) != 95 {
		t.Fatalf("unexpected value: %s", rec.Value)
	}
	if calls := h.controller.restarted(); len(calls) != 1 || calls[0] != "i-abc" {
		t.Fatalf("expected exactly one restart of i-abc, got %v", calls)
	}
}

func TestPipelineUncorroboratedAnomalyIsOnlyRecorded(t *testing.T) {
	h := newHarness(t, map[string][]string{"i-xyz": {}})

	if _, err := h.detection(t, zscoreDetector(t), map[string]float64{"i-xyz": 91}).RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	consume(t, h.bus, rcaSubscription, h.rca.HandleMessage, 1)

	records, _ := h.store.Scan(context.Background())
	if len(records) != 1 || records[0].IsCritical || len(records[0].Evidence) != 0 {
		t.Fatalf("expected one non-critical record without evidence, got %+v", records)
	}
	if h.bus.Pending(remediationSub) != 0 {
		t.Fatalf("expected no remediation request")
	}
	if len(h.controller.restarted()) != 0 {
		t.Fatalf("expected no restart")
	}
}

func TestPipelineDisabledDetectorRecoversWithNewModel(t *testing.T) {
	h := newHarness(t, nil)
	latest := map[string]float64{"i-abc": 95}

	missing := filepath.Join(t.TempDir(), "model.json")
	disabled := detector.Load(missing, utils.DiscardLogger())
	_, err := h.detection(t, disabled, latest).RunCycle(context.Background())
	if !errors.Is(err, engine.ErrDetectorDisabled) {
		t.Fatalf("expected disabled detector error, got %v", err)
	}
	if h.bus.Pending(rcaSubscription) != 0 {
		t.Fatalf("expected no anomaly events while disabled")
	}

	model, err := detector.DecodeModel([]byte(`{"kind":"zscore","mean":20,"std_dev":5,"threshold":2.5}`))
	if err != nil {
		t.Fatalf("DecodeModel returned error: %v", err)
	}
	if err := model.Save(missing); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	report, err := h.detection(t, detector.Load(missing, utils.DiscardLogger()), latest).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle after restart returned error: %v", err)
	}
	if report.Anomalies != 1 || h.bus.Pending(rcaSubscription) != 1 {
		t.Fatalf("expected detection to resume, got %+v", report)
	}
}

func TestPipelineDuplicateDeliveryCreatesDistinctRecords(t *testing.T) {
	h := newHarness(t, map[string][]string{"i-abc": {}})
	msg := transport.Message{Data: encodedAnomaly(t, "i-abc", 95)}

	for i := 0; i < 2; i++ {
		if err := h.bus.Publish(context.Background(), anomaliesTopic, msg); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}
	consume(t, h.bus, rcaSubscription, h.rca.HandleMessage, 2)

	records, _ := h.store.Scan(context.Background())
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
	if records[0].ID == records[1].ID {
		t.Fatalf("expected distinct incident ids, got %q twice", records[0].ID)
	}
}
