package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/miradorstack/mirador-aiops/internal/metrics"
	"github.com/miradorstack/mirador-aiops/internal/models"
)

// Status is the result of handling one remediation request.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome reports what the remediation stage did with a request.
type Outcome struct {
	Status Status
	Err    error
}

// RemediationStage dispatches supported corrective actions. Failures are terminal: the
// stage never retries.
type RemediationStage struct {
	logger     *slog.Logger
	controller ResourceController
}

// NewRemediationStage constructs a remediation stage.
func NewRemediationStage(logger *slog.Logger, controller ResourceController) *RemediationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemediationStage{logger: logger, controller: controller}
}

// Handle acts on req. Unsupported combinations are skipped without touching the controller.
func (s *RemediationStage) Handle(ctx context.Context, req models.RemediationRequest) Outcome {
	started := time.Now()
	defer func() { metrics.ObserveStage("remediation", time.Since(started)) }()

	ctx, span := tracer.Start(ctx, "remediation.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("target_type", req.TargetType.String()),
		attribute.String("action", req.Action.String()),
		attribute.String("target_id", req.TargetID),
	)

	logger := s.logger.With(
		slog.String("target_type", req.TargetType.String()),
		slog.String("target", req.TargetID),
		slog.String("action", req.Action.String()),
		slog.String("incident", req.IncidentID),
	)

	var outcome Outcome
	switch req.TargetType {
	case models.TargetComputeInstance:
		switch req.Action {
		case models.ActionRestart:
			outcome = s.restart(ctx, logger, req.TargetID)
		case models.ActionUnknown:
			outcome = s.skip(logger, "unsupported action")
		}
	case models.TargetUnknown:
		outcome = s.skip(logger, "unsupported target type")
	}
	if outcome.Status == "" {
		outcome = s.skip(logger, "unsupported remediation")
	}

	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, "remediation failed")
	}
	span.SetAttributes(attribute.String("status", string(outcome.Status)))
	return outcome
}

func (s *RemediationStage) restart(ctx context.Context, logger *slog.Logger, resourceID string) Outcome {
	if resourceID == "" {
		return s.skip(logger, "missing target id")
	}
	logger.Info("attempting restart")
	if err := s.controller.Restart(ctx, resourceID); err != nil {
		logger.Error("restart failed", slog.Any("error", err))
		metrics.Remediation(metrics.OutcomeError)
		return Outcome{Status: StatusFailed, Err: err}
	}
	logger.Info("restart succeeded")
	metrics.Remediation(metrics.OutcomeSuccess)
	return Outcome{Status: StatusSucceeded}
}

func (s *RemediationStage) skip(logger *slog.Logger, reason string) Outcome {
	logger.Warn("remediation skipped", slog.String("reason", reason))
	metrics.Remediation(metrics.OutcomeSkipped)
	return Outcome{Status: StatusSkipped}
}
