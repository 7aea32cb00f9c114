package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

// Attribute keys set on published messages.
const (
	AttrKind     = "kind"
	AttrResource = "resource_id"
)

// EncodeAnomaly serialises an anomaly event.
func EncodeAnomaly(ev models.AnomalyEvent) (Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("encode anomaly: %w", err)
	}
	return Message{Data: data, Attributes: map[string]string{AttrKind: "anomaly", AttrResource: ev.ResourceID}}, nil
}

// legacyAnomaly is the payload shape emitted by the previous generation of the detector.
type legacyAnomaly struct {
	InstanceID  string `json:"instance_id"`
	Metric      string `json:"metric"`
	Value       any    `json:"value"`
	Timestamp   string `json:"timestamp"`
	AnomalyType string `json:"anomaly_type"`
}

// DecodeAnomaly parses either the current or the legacy anomaly payload.
func DecodeAnomaly(data []byte) (models.AnomalyEvent, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return models.AnomalyEvent{}, fmt.Errorf("decode anomaly: %w", err)
	}
	if _, ok := probe["resource_id"]; ok {
		var ev models.AnomalyEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return models.AnomalyEvent{}, fmt.Errorf("decode anomaly: %w", err)
		}
		return ev, nil
	}
	if _, ok := probe["instance_id"]; !ok {
		return models.AnomalyEvent{}, fmt.Errorf("decode anomaly: missing resource_id")
	}

	var legacy legacyAnomaly
	if err := json.Unmarshal(data, &legacy); err != nil {
		return models.AnomalyEvent{}, fmt.Errorf("decode legacy anomaly: %w", err)
	}
	value, err := toFloat(legacy.Value)
	if err != nil {
		return models.AnomalyEvent{}, fmt.Errorf("decode legacy anomaly value: %w", err)
	}
	var observed time.Time
	if strings.TrimSpace(legacy.Timestamp) != "" {
		observed, err = utils.ParseTimestamp(legacy.Timestamp)
		if err != nil {
			return models.AnomalyEvent{}, fmt.Errorf("decode legacy anomaly timestamp: %w", err)
		}
	}
	return models.AnomalyEvent{
		ResourceID:  legacy.InstanceID,
		MetricName:  legacy.Metric,
		Value:       value,
		ObservedAt:  observed,
		AnomalyKind: legacy.AnomalyType,
	}, nil
}

// EncodeRemediation serialises a remediation request. Unknown variants cannot be encoded.
func EncodeRemediation(req models.RemediationRequest) (Message, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Message{}, fmt.Errorf("encode remediation: %w", err)
	}
	return Message{Data: data, Attributes: map[string]string{AttrKind: "remediation", AttrResource: req.TargetID}}, nil
}

type legacyRemediation struct {
	Target *struct {
		Type   models.TargetType `json:"type"`
		ID     string            `json:"id"`
		Action models.Action     `json:"action"`
	} `json:"remediation_target"`
	RCA struct {
		Findings []string `json:"findings"`
	} `json:"rca"`
}

// DecodeRemediation parses either the current payload or the legacy remediation_target
// envelope. Unrecognised target types and actions decode to their unknown variants.
func DecodeRemediation(data []byte) (models.RemediationRequest, error) {
	var legacy legacyRemediation
	if err := json.Unmarshal(data, &legacy); err != nil {
		return models.RemediationRequest{}, fmt.Errorf("decode remediation: %w", err)
	}
	if legacy.Target != nil {
		return models.RemediationRequest{
			TargetType: legacy.Target.Type,
			TargetID:   legacy.Target.ID,
			Action:     legacy.Target.Action,
			Evidence:   models.TruncateEvidence(legacy.RCA.Findings),
		}, nil
	}

	var req models.RemediationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return models.RemediationRequest{}, fmt.Errorf("decode remediation: %w", err)
	}
	return req, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		var f float64
		if _, err := fmt.Sscan(n, &f); err != nil {
			return 0, err
		}
		return f, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
