// Package analysis turns mail snapshots into persisted annotation records.
// The orchestrator owns the lifecycle around an Analyzer: reuse of existing
// complete annotations, bounded compute, fallback records on failure, and
// write-back through the codec.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/codec"
	"github.com/cosmail/engine/internal/models"
)

// computeTimeout bounds a single analyzer call. The surrounding request
// deadline is owned by the caller and is deliberately longer.
const computeTimeout = 45 * time.Second

// Analyzer computes an annotation for one mail snapshot. Implementations are
// expected to honor ctx cancellation; the orchestrator enforces its own
// deadline around the call regardless.
type Analyzer interface {
	ComputeAnnotation(ctx context.Context, item *models.MailItemSnapshot) (*models.AnnotationRecord, error)
}

// state names the steps of a single EnsureAnnotation run. Kept explicit so
// failures report where in the lifecycle they happened.
type state string

const (
	stateStart         state = "START"
	stateCheckExisting state = "CHECK_EXISTING"
	stateReuse         state = "REUSE"
	stateCompute       state = "COMPUTE"
	statePersist       state = "PERSIST"
	stateDone          state = "DONE"
	stateFailed        state = "FAILED"
)

// Result reports what a run produced and how.
type Result struct {
	Record *models.AnnotationRecord
	// Reused is true when a complete annotation was already present on the
	// item and no compute happened.
	Reused bool
	// Fallback is true when the analyzer failed or timed out and the record
	// is a degraded placeholder.
	Fallback bool
	// Persisted is false when the record could not be written back; the
	// record is still valid in memory.
	Persisted bool
}

// Orchestrator drives analysis runs against a backend.
type Orchestrator struct {
	backend  backend.Backend
	analyzer Analyzer
	now      func() time.Time
}

// New creates an orchestrator. The analyzer may be nil, in which case every
// run that needs compute produces a fallback record.
func New(b backend.Backend, analyzer Analyzer) *Orchestrator {
	return &Orchestrator{backend: b, analyzer: analyzer, now: time.Now}
}

// EnsureAnnotation returns an annotation for the item, computing and
// persisting one if the item does not already carry a complete record.
// forceRefresh skips the reuse check and always recomputes. A persist
// failure is logged but does not fail the run.
func (o *Orchestrator) EnsureAnnotation(ctx context.Context, item *models.MailItemSnapshot, forceRefresh bool) (*Result, error) {
	if item == nil {
		return nil, fmt.Errorf("analysis: nil item")
	}

	current := stateStart
	transition := func(next state) {
		log.Printf("Analysis %s: %s -> %s", item.ID, current, next)
		current = next
	}

	transition(stateCheckExisting)
	if !forceRefresh {
		existing, err := o.checkExisting(ctx, item)
		if err != nil {
			transition(stateFailed)
			return nil, fmt.Errorf("failed to check existing annotation for %s: %w", item.ID, err)
		}
		if existing != nil {
			transition(stateReuse)
			transition(stateDone)
			return &Result{Record: existing, Reused: true, Persisted: true}, nil
		}
	}

	transition(stateCompute)
	record, fallback := o.compute(ctx, item)
	record.ProcessedAt = o.now().UTC()
	record.Provenance = models.ProvenanceAI
	record.Normalize()

	transition(statePersist)
	result := &Result{Record: record, Fallback: fallback, Persisted: true}
	if err := codec.Write(ctx, o.backend, item.ID, record); err != nil {
		log.Printf("Warning: failed to persist annotation for %s: %v", item.ID, err)
		result.Persisted = false
	}
	item.Annotation = record

	transition(stateDone)
	return result, nil
}

// checkExisting prefers the annotation already decoded onto the snapshot and
// only re-reads the item when the snapshot carries none. An incomplete record
// is treated as absent so it gets recomputed.
func (o *Orchestrator) checkExisting(ctx context.Context, item *models.MailItemSnapshot) (*models.AnnotationRecord, error) {
	if codec.Complete(item.Annotation) {
		return item.Annotation, nil
	}

	record, err := codec.Read(ctx, o.backend, item.ID)
	if err != nil {
		if errors.Is(err, backend.ErrItemNotFound) {
			return nil, err
		}
		// A bag we cannot read is the same as no annotation.
		log.Printf("Warning: failed to read annotation for %s, recomputing: %v", item.ID, err)
		return nil, nil
	}
	if !codec.Complete(record) {
		return nil, nil
	}
	return record, nil
}

// compute runs the analyzer under the compute deadline. It always returns a
// usable record; the bool reports whether it is a fallback.
func (o *Orchestrator) compute(ctx context.Context, item *models.MailItemSnapshot) (*models.AnnotationRecord, bool) {
	if o.analyzer == nil {
		return fallbackRecord(item, "no analyzer configured", 0.5), true
	}

	computeCtx, cancel := context.WithTimeout(ctx, computeTimeout)
	defer cancel()

	// The analyzer runs in its own goroutine so a collaborator that ignores
	// cancellation cannot hold the run past the deadline; a late result is
	// abandoned, not persisted.
	type computeResult struct {
		record *models.AnnotationRecord
		err    error
	}
	done := make(chan computeResult, 1)
	go func() {
		record, err := o.analyzer.ComputeAnnotation(computeCtx, item)
		done <- computeResult{record: record, err: err}
	}()

	select {
	case <-computeCtx.Done():
		log.Printf("Warning: analysis timed out for %s", item.ID)
		return fallbackRecord(item, "analysis timed out", 0.3), true
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				log.Printf("Warning: analysis timed out for %s", item.ID)
				return fallbackRecord(item, "analysis timed out", 0.3), true
			}
			log.Printf("Warning: analysis failed for %s: %v", item.ID, res.err)
			return fallbackRecord(item, "analysis unavailable", 0.5), true
		}
		if res.record == nil {
			log.Printf("Warning: analyzer returned no record for %s", item.ID)
			return fallbackRecord(item, "analysis unavailable", 0.5), true
		}
		return res.record, false
	}
}

// fallbackRecord builds the degraded record used when compute cannot run.
func fallbackRecord(item *models.MailItemSnapshot, reason string, confidence float64) *models.AnnotationRecord {
	summary := reason
	if item.Subject != "" {
		summary = fmt.Sprintf("%s: %s", reason, item.Subject)
	}
	return &models.AnnotationRecord{
		Priority:   models.PriorityMedium,
		Urgency:    models.UrgencyMedium,
		Tone:       models.ToneProfessional,
		Summary:    summary,
		Confidence: confidence,
	}
}
