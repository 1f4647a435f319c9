package models

import (
	"strings"
	"time"
)

// Priority is the machine-derived priority of a message.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Urgency is the machine-derived time sensitivity of a message.
type Urgency string

const (
	UrgencyLow       Urgency = "LOW"
	UrgencyMedium    Urgency = "MEDIUM"
	UrgencyHigh      Urgency = "HIGH"
	UrgencyImmediate Urgency = "IMMEDIATE"
)

// Tone is an open enum; values outside the common set are preserved as-is.
type Tone string

const ToneProfessional Tone = "PROFESSIONAL"

// Provenance describes how an annotation was produced.
type Provenance string

const (
	ProvenanceAI     Provenance = "AI"
	ProvenanceManual Provenance = "MANUAL"
	ProvenanceImport Provenance = "IMPORT"
)

// DefaultConfidence is assumed when a stored confidence value is missing or
// unparseable.
const DefaultConfidence = 0.8

// ParsePriority maps a raw value to a priority, defaulting to MEDIUM.
func ParsePriority(raw string) Priority {
	switch Priority(strings.ToUpper(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// ParseUrgency maps a raw value to an urgency, defaulting to MEDIUM.
func ParseUrgency(raw string) Urgency {
	switch Urgency(strings.ToUpper(strings.TrimSpace(raw))) {
	case UrgencyLow:
		return UrgencyLow
	case UrgencyHigh:
		return UrgencyHigh
	case UrgencyImmediate:
		return UrgencyImmediate
	default:
		return UrgencyMedium
	}
}

// ParseTone normalizes a raw tone, defaulting to PROFESSIONAL when empty.
func ParseTone(raw string) Tone {
	t := strings.ToUpper(strings.TrimSpace(raw))
	if t == "" {
		return ToneProfessional
	}
	return Tone(t)
}

// ParseProvenance maps a raw value to a provenance, defaulting to AI.
func ParseProvenance(raw string) Provenance {
	switch Provenance(strings.ToUpper(strings.TrimSpace(raw))) {
	case ProvenanceManual:
		return ProvenanceManual
	case ProvenanceImport:
		return ProvenanceImport
	default:
		return ProvenanceAI
	}
}

// ClampConfidence forces a confidence score into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// SuggestedAction is one machine-proposed follow-up for a message.
type SuggestedAction struct {
	Type        string            `json:"type"`
	ActionText  string            `json:"action_text"`
	Description string            `json:"description,omitempty"`
	Confidence  float64           `json:"confidence"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// AnnotationRecord is the engine's derived metadata for one message. It is
// persisted inside the message's own property bag, never in a side store, and
// is overwritten wholesale on every re-analysis.
type AnnotationRecord struct {
	Priority         Priority          `json:"priority"`
	Tone             Tone              `json:"tone"`
	Urgency          Urgency           `json:"urgency"`
	Summary          string            `json:"summary"`
	Confidence       float64           `json:"confidence"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
	ProjectID        string            `json:"project_id,omitempty"`
	TaskIDs          []string          `json:"task_ids,omitempty"`
	Provenance       Provenance        `json:"provenance"`
	ProcessedAt      time.Time         `json:"processed_at"`
}

// Normalize fills defaulted fields and clamps confidence so a record coming
// from any source (compute collaborator, partially written property bag) is
// always usable.
func (r *AnnotationRecord) Normalize() {
	r.Priority = ParsePriority(string(r.Priority))
	r.Urgency = ParseUrgency(string(r.Urgency))
	r.Tone = ParseTone(string(r.Tone))
	r.Provenance = ParseProvenance(string(r.Provenance))
	r.Confidence = ClampConfidence(r.Confidence)
	for i := range r.SuggestedActions {
		r.SuggestedActions[i].Confidence = ClampConfidence(r.SuggestedActions[i].Confidence)
	}
}
