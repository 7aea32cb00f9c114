package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/miradorstack/mirador-aiops/internal/metrics"
	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/transport"
)

var (
	// ErrInvalidEvent rejects events that fail validation before anything is written.
	ErrInvalidEvent = errors.New("invalid anomaly event")
	// ErrPersist reports that the incident record could not be written.
	ErrPersist = errors.New("persist incident")
)

// RCAStage decides whether an anomaly is corroborated by logs, records it and, when it is,
// asks for remediation.
type RCAStage struct {
	logger    *slog.Logger
	evidence  EvidenceFinder
	store     IncidentWriter
	publisher Publisher
	topic     string
	newID     func() string
	now       func() time.Time
}

// NewRCAStage constructs an RCA stage publishing remediation requests to topic.
func NewRCAStage(logger *slog.Logger, evidence EvidenceFinder, store IncidentWriter, publisher Publisher, topic string) *RCAStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RCAStage{
		logger:    logger,
		evidence:  evidence,
		store:     store,
		publisher: publisher,
		topic:     topic,
		newID:     func() string { return uuid.NewString() },
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *RCAStage) WithClock(now func() time.Time) *RCAStage {
	s.now = now
	return s
}

// Handle processes one anomaly event. The record is always written; a remediation request
// is published only when evidence was found. Only persistence failures are returned.
func (s *RCAStage) Handle(ctx context.Context, ev models.AnomalyEvent) (models.IncidentRecord, error) {
	started := time.Now()
	defer func() { metrics.ObserveStage("rca", time.Since(started)) }()

	ctx, span := tracer.Start(ctx, "rca.handle")
	defer span.End()
	span.SetAttributes(attribute.String("resource_id", ev.ResourceID))

	if err := ev.Validate(s.now()); err != nil {
		span.SetStatus(codes.Error, "invalid event")
		return models.IncidentRecord{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	logger := s.logger.With(slog.String("resource", ev.ResourceID))
	evidence := s.evidence.Find(ctx, ev.ResourceID, ev.ObservedAt)
	rec := models.NewIncidentRecord(s.newID(), ev, evidence, s.now())
	span.SetAttributes(attribute.Bool("critical", rec.IsCritical), attribute.Int("evidence", len(evidence)))

	if err := s.store.Put(ctx, rec); err != nil {
		logger.Error("failed to persist incident", slog.String("incident", rec.ID), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return rec, fmt.Errorf("%w %s: %v", ErrPersist, rec.ID, err)
	}
	metrics.IncidentRecorded(rec.IsCritical)

	if !rec.IsCritical {
		logger.Info("anomaly not corroborated by logs; recorded as non-critical",
			slog.String("incident", rec.ID), slog.Float64("value", ev.Value))
		return rec, nil
	}

	logger.Info("anomaly corroborated by logs; recorded as critical",
		slog.String("incident", rec.ID), slog.Int("evidence", len(evidence)))

	msg, err := transport.EncodeRemediation(models.NewRestartRequest(rec))
	if err == nil {
		err = s.publisher.Publish(ctx, s.topic, msg)
	}
	if err != nil {
		logger.Error("failed to request remediation", slog.String("incident", rec.ID), slog.Any("error", err))
		metrics.PublishFailed(s.topic)
		return rec, nil
	}
	logger.Info("remediation requested", slog.String("incident", rec.ID), slog.String("action", models.ActionRestart.String()))
	return rec, nil
}
