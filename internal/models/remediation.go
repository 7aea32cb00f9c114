package models

import (
	"fmt"
	"strings"
)

// TargetType enumerates the kinds of resources remediation can act on.
type TargetType uint8

const (
	TargetUnknown TargetType = iota
	TargetComputeInstance
)

// Action enumerates the corrective actions remediation can perform.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionRestart
)

// RemediationRequest asks the remediation stage to act on a critical incident.
type RemediationRequest struct {
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Action     Action     `json:"action"`
	IncidentID string     `json:"incident_id,omitempty"`
	Evidence   []string   `json:"evidence,omitempty"`
}

// NewRestartRequest builds the single supported request shape.
func NewRestartRequest(incident IncidentRecord) RemediationRequest {
	return RemediationRequest{
		TargetType: TargetComputeInstance,
		TargetID:   incident.ResourceID,
		Action:     ActionRestart,
		IncidentID: incident.ID,
		Evidence:   TruncateEvidence(incident.Evidence),
	}
}

func (t TargetType) String() string {
	switch t {
	case TargetComputeInstance:
		return "compute_instance"
	default:
		return "unknown"
	}
}

// MarshalText encodes the canonical name. Unknown targets cannot be encoded.
func (t TargetType) MarshalText() ([]byte, error) {
	if t == TargetUnknown {
		return nil, fmt.Errorf("cannot encode unknown target type")
	}
	return []byte(t.String()), nil
}

// UnmarshalText maps canonical and legacy names; anything else decodes to TargetUnknown.
func (t *TargetType) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "compute_instance", "ec2_instance":
		*t = TargetComputeInstance
	default:
		*t = TargetUnknown
	}
	return nil
}

func (a Action) String() string {
	switch a {
	case ActionRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// MarshalText encodes the canonical name. Unknown actions cannot be encoded.
func (a Action) MarshalText() ([]byte, error) {
	if a == ActionUnknown {
		return nil, fmt.Errorf("cannot encode unknown action")
	}
	return []byte(a.String()), nil
}

// UnmarshalText maps canonical and legacy names; anything else decodes to ActionUnknown.
func (a *Action) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "restart", "reboot":
		*a = ActionRestart
	default:
		*a = ActionUnknown
	}
	return nil
}
