package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

func TestRemediationRestartSucceeds(t *testing.T) {
	ctrl := &fakeController{}
	out := NewRemediationStage(utils.DiscardLogger(), ctrl).Handle(context.Background(), models.RemediationRequest{
		TargetType: models.TargetComputeInstance, TargetID: "i-abc", Action: models.ActionRestart,
	})
	if out.Status != StatusSucceeded || out.Err != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(ctrl.calls) != 1 || ctrl.calls[0] != "i-abc" {
		t.Fatalf("unexpected controller calls %v", ctrl.calls)
	}
}

func TestRemediationFailureIsTerminal(t *testing.T) {
	ctrl := &fakeController{err: errors.New("instance locked")}
	out := NewRemediationStage(utils.DiscardLogger(), ctrl).Handle(context.Background(), models.RemediationRequest{
		TargetType: models.TargetComputeInstance, TargetID: "i-abc", Action: models.ActionRestart,
	})
	if out.Status != StatusFailed || out.Err == nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(ctrl.calls) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(ctrl.calls))
	}
}

func TestRemediationSkipsUnsupportedRequests(t *testing.T) {
	cases := []models.RemediationRequest{
		{TargetType: models.TargetUnknown, TargetID: "db-1", Action: models.ActionRestart},
		{TargetType: models.TargetComputeInstance, TargetID: "i-abc", Action: models.ActionUnknown},
		{TargetType: models.TargetComputeInstance, Action: models.ActionRestart},
	}
	for _, req := range cases {
		ctrl := &fakeController{}
		out := NewRemediationStage(utils.DiscardLogger(), ctrl).Handle(context.Background(), req)
		if out.Status != StatusSkipped || out.Err != nil {
			t.Fatalf("expected skipped outcome for %+v, got %+v", req, out)
		}
		if len(ctrl.calls) != 0 {
			t.Fatalf("unsupported request reached the controller: %+v", req)
		}
	}
}
