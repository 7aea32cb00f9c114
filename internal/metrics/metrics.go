package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels operations that failed because of a dependency or pipeline issue.
	OutcomeError = "error"
	// OutcomeSkipped labels remediation requests that were not actionable.
	OutcomeSkipped = "skipped"
	// OutcomeFound labels evidence lookups that returned at least one line.
	OutcomeFound = "found"
	// OutcomeEmpty labels evidence lookups that returned nothing.
	OutcomeEmpty = "empty"
)

const namespace = "mirador_aiops"

var (
	detectionCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_cycles_total",
			Help:      "Detection cycles run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	anomaliesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Anomaly events emitted by the detection stage.",
		},
	)

	resourceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_failures_total",
			Help:      "Per-resource failures during detection, partitioned by step.",
		},
		[]string{"step"},
	)

	incidentsRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_recorded_total",
			Help:      "Incident records persisted, partitioned by criticality.",
		},
		[]string{"critical"},
	)

	evidenceLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_lookups_total",
			Help:      "Log evidence lookups, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	remediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediations_total",
			Help:      "Remediation requests handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	publishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Failed publishes to inter-stage topics.",
		},
		[]string{"topic"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage handling latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
)

// Register attaches mirador-aiops collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		detectionCyclesTotal,
		anomaliesDetectedTotal,
		resourceFailuresTotal,
		incidentsRecordedTotal,
		evidenceLookupsTotal,
		remediationsTotal,
		publishFailuresTotal,
		stageDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a detection cycle outcome and duration.
func ObserveCycle(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	detectionCyclesTotal.WithLabelValues(label).Inc()
	ObserveStage("detection", duration)
}

// AnomalyDetected increments the emitted anomaly counter.
func AnomalyDetected() {
	anomaliesDetectedTotal.Inc()
}

// ResourceFailed records a per-resource failure at the given step (sample, classify, publish).
func ResourceFailed(step string) {
	resourceFailuresTotal.WithLabelValues(step).Inc()
}

// IncidentRecorded records a persisted incident.
func IncidentRecorded(critical bool) {
	label := "false"
	if critical {
		label = "true"
	}
	incidentsRecordedTotal.WithLabelValues(label).Inc()
}

// EvidenceLookup records an evidence lookup outcome.
func EvidenceLookup(outcome string) {
	evidenceLookupsTotal.WithLabelValues(outcome).Inc()
}

// Remediation records a remediation outcome.
func Remediation(outcome string) {
	remediationsTotal.WithLabelValues(outcome).Inc()
}

// PublishFailed records a failed publish to topic.
func PublishFailed(topic string) {
	publishFailuresTotal.WithLabelValues(topic).Inc()
}

// ObserveStage records how long a stage took to handle one unit of work.
func ObserveStage(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}
