package transport

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

func TestDecodeAnomalyCurrentShape(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := EncodeAnomaly(models.AnomalyEvent{ResourceID: "i-abc", MetricName: "CPUUtilization", Value: 95, ObservedAt: at, AnomalyKind: "High CPU Utilization"})
	if err != nil {
		t.Fatalf("EncodeAnomaly returned error: %v", err)
	}
	if msg.Attributes[AttrResource] != "i-abc" {
		t.Fatalf("expected resource attribute, got %v", msg.Attributes)
	}
	ev, err := DecodeAnomaly(msg.Data)
	if err != nil {
		t.Fatalf("DecodeAnomaly returned error: %v", err)
	}
	if ev.ResourceID != "i-abc" || ev.Value != 95 || !ev.ObservedAt.Equal(at) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDecodeAnomalyLegacyShape(t *testing.T) {
	payload := []byte(`{"instance_id":"i-abc","metric":"CPUUtilization","value":91.0,"timestamp":"2024-05-01T12:00:00","anomaly_type":"High CPU Utilization"}`)
	ev, err := DecodeAnomaly(payload)
	if err != nil {
		t.Fatalf("DecodeAnomaly returned error: %v", err)
	}
	if ev.ResourceID != "i-abc" || ev.MetricName != "CPUUtilization" || ev.Value != 91 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !ev.ObservedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %s", ev.ObservedAt)
	}
}

func TestDecodeAnomalyRejectsGarbage(t *testing.T) {
	if _, err := DecodeAnomaly([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
	if _, err := DecodeAnomaly([]byte(`{"metric":"x"}`)); err == nil {
		t.Fatalf("expected error for payload without resource")
	}
}

func TestRemediationCodec(t *testing.T) {
	req := models.RemediationRequest{TargetType: models.TargetComputeInstance, TargetID: "i-abc", Action: models.ActionRestart, IncidentID: "inc-1"}
	msg, err := EncodeRemediation(req)
	if err != nil {
		t.Fatalf("EncodeRemediation returned error: %v", err)
	}
	got, err := DecodeRemediation(msg.Data)
	if err != nil {
		t.Fatalf("DecodeRemediation returned error: %v", err)
	}
	if got.TargetType != models.TargetComputeInstance || got.Action != models.ActionRestart || got.IncidentID != "inc-1" {
		t.Fatalf("unexpected request %+v", got)
	}

	if _, err := EncodeRemediation(models.RemediationRequest{TargetID: "i-abc"}); err == nil {
		t.Fatalf("expected unknown variants to be unencodable")
	}
}

func TestDecodeRemediationLegacyAndUnknown(t *testing.T) {
	legacy := []byte(`{
		"original_anomaly": {"instance_id": "i-abc", "metric": "CPUUtilization", "value": 95.0},
		"rca": {"analysis": "Log analysis found potential error indicators.", "findings": ["a","b","c","d","e","f"]},
		"remediation_target": {"type": "EC2_INSTANCE", "id": "i-abc", "action": "REBOOT"}
	}`)
	got, err := DecodeRemediation(legacy)
	if err != nil {
		t.Fatalf("DecodeRemediation returned error: %v", err)
	}
	if got.TargetType != models.TargetComputeInstance || got.Action != models.ActionRestart || got.TargetID != "i-abc" {
		t.Fatalf("unexpected legacy request %+v", got)
	}
	if len(got.Evidence) != models.MaxEvidence {
		t.Fatalf("expected evidence truncated to %d, got %d", models.MaxEvidence, len(got.Evidence))
	}
	if got.Evidence[0] != "a" {
		t.Fatalf("expected findings in order, got %v", got.Evidence)
	}

	got, err = DecodeRemediation([]byte(`{"rca":{"findings":["ERROR a","timeout b"]},"remediation_target":{"type":"EC2_INSTANCE","id":"i-1","action":"REBOOT"}}`))
	if err != nil {
		t.Fatalf("DecodeRemediation returned error: %v", err)
	}
	if len(got.Evidence) != 2 || got.Evidence[1] != "timeout b" {
		t.Fatalf("expected nested rca findings as evidence, got %v", got.Evidence)
	}

	unknown := []byte(`{"target_type":"database","target_id":"db-1","action":"snapshot"}`)
	got, err = DecodeRemediation(unknown)
	if err != nil {
		t.Fatalf("unknown variants must decode without error: %v", err)
	}
	if got.TargetType != models.TargetUnknown || got.Action != models.ActionUnknown {
		t.Fatalf("expected unknown variants, got %+v", got)
	}
}
