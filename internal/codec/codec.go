// Package codec serializes AnnotationRecords to and from a remote item's
// untyped property bag. All lenient-parsing and defaulting logic lives here so
// the rest of the engine never sees raw properties.
package codec

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/models"
)

// Namespace is the fixed prefix under which every annotation property is
// stored. Properties outside the namespace are never touched.
const Namespace = "COS."

// Property names, one per scalar field. List-valued fields are stored as a
// single JSON-encoded text property.
const (
	PropPriority         = "COS.Priority"
	PropTone             = "COS.Tone"
	PropUrgency          = "COS.Urgency"
	PropSummary          = "COS.Summary"
	PropConfidence       = "COS.Confidence"
	PropSuggestedActions = "COS.SuggestedActions"
	PropProjectID        = "COS.ProjectId"
	PropTaskIDs          = "COS.TaskIds"
	PropProvenance       = "COS.Provenance"
	PropProcessedAt      = "COS.ProcessedAt"
)

// Encode renders a record as the full set of namespaced properties. Every
// property is always present so that writing replaces any previous record
// wholesale instead of merging into it.
func Encode(r *models.AnnotationRecord) (map[string]string, error) {
	actions, err := json.Marshal(r.SuggestedActions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode suggested actions: %w", err)
	}
	taskIDs, err := json.Marshal(r.TaskIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task ids: %w", err)
	}

	return map[string]string{
		PropPriority:         string(r.Priority),
		PropTone:             string(r.Tone),
		PropUrgency:          string(r.Urgency),
		PropSummary:          r.Summary,
		PropConfidence:       strconv.FormatFloat(models.ClampConfidence(r.Confidence), 'f', -1, 64),
		PropSuggestedActions: string(actions),
		PropProjectID:        r.ProjectID,
		PropTaskIDs:          string(taskIDs),
		PropProvenance:       string(r.Provenance),
		PropProcessedAt:      r.ProcessedAt.UTC().Format(time.RFC3339),
	}, nil
}

// Decode reconstructs a record from a property bag. It returns (nil, nil) when
// the bag holds zero namespaced properties; a partially written record is
// still decoded, with documented defaults for anything missing or
// unparseable. Decode only fails when the bag cannot be enumerated at all.
func Decode(bag backend.PropertyBag) (*models.AnnotationRecord, error) {
	props, err := collectNamespaced(bag)
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, nil
	}

	r := &models.AnnotationRecord{
		Priority:   models.ParsePriority(props[PropPriority]),
		Tone:       models.ParseTone(props[PropTone]),
		Urgency:    models.ParseUrgency(props[PropUrgency]),
		Summary:    props[PropSummary],
		Confidence: parseConfidence(props[PropConfidence]),
		ProjectID:  props[PropProjectID],
		Provenance: models.ParseProvenance(props[PropProvenance]),
	}

	if raw := props[PropSuggestedActions]; raw != "" {
		var actions []models.SuggestedAction
		if err := json.Unmarshal([]byte(raw), &actions); err == nil {
			r.SuggestedActions = actions
		}
	}
	if raw := props[PropTaskIDs]; raw != "" {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err == nil {
			r.TaskIDs = ids
		}
	}
	if raw := props[PropProcessedAt]; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			r.ProcessedAt = ts
		}
	}

	r.Normalize()
	return r, nil
}

// Complete reports whether a decoded record is substantial enough to reuse
// without recomputation: it must carry a summary and a processing timestamp.
func Complete(r *models.AnnotationRecord) bool {
	return r != nil && r.Summary != "" && !r.ProcessedAt.IsZero()
}

// Write persists a record into the item's property bag through the backend.
func Write(ctx context.Context, b backend.Backend, itemID string, r *models.AnnotationRecord) error {
	props, err := Encode(r)
	if err != nil {
		return err
	}
	if err := b.SetProperties(ctx, itemID, props); err != nil {
		return fmt.Errorf("failed to write annotation properties: %w", err)
	}
	return nil
}

// Read loads the item's property bag through the backend and decodes it.
// Returns (nil, nil) when the item carries no annotation.
func Read(ctx context.Context, b backend.Backend, itemID string) (*models.AnnotationRecord, error) {
	bag, err := b.Properties(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read item properties: %w", err)
	}
	return Decode(bag)
}

// collectNamespaced enumerates the bag and keeps namespaced properties. It
// tries forward iteration first; if the collection rejects that access style,
// it falls back to indexed access, tolerating individual index failures.
func collectNamespaced(bag backend.PropertyBag) (map[string]string, error) {
	props := make(map[string]string)

	iterErr := bag.ForEach(func(name, value string) error {
		if strings.HasPrefix(name, Namespace) {
			props[name] = value
		}
		return nil
	})
	if iterErr == nil {
		return props, nil
	}

	n, err := bag.Len()
	if err != nil {
		return nil, fmt.Errorf("property bag enumeration failed (iteration: %v): %w", iterErr, err)
	}
	for i := 0; i < n; i++ {
		name, value, err := bag.At(i)
		if err != nil {
			// Individual entries can be unreadable; skip them.
			continue
		}
		if strings.HasPrefix(name, Namespace) {
			props[name] = value
		}
	}
	return props, nil
}

func parseConfidence(raw string) float64 {
	if raw == "" {
		return models.DefaultConfidence
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return models.DefaultConfidence
	}
	return models.ClampConfidence(f)
}
