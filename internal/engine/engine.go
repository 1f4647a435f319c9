// Package engine ties the pieces together: it picks a working backend,
// bootstraps the workflow folders, and exposes the item-level operations the
// rest of the application calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cosmail/engine/internal/analysis"
	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/bridge"
	"github.com/cosmail/engine/internal/extract"
	"github.com/cosmail/engine/internal/graph"
	"github.com/cosmail/engine/internal/models"
	"github.com/cosmail/engine/internal/recipients"
)

var (
	// ErrConnectionUnavailable is returned when neither backend can serve.
	ErrConnectionUnavailable = errors.New("no mail connection available")
	// ErrAnalysisTimeout is returned when a whole annotation run, including
	// reads and write-back, exceeds its deadline.
	ErrAnalysisTimeout = errors.New("analysis deadline exceeded")
)

// annotationTimeout bounds a full EnsureAnnotation run. Deliberately longer
// than the orchestrator's per-compute deadline so the fallback path still has
// time to persist.
const annotationTimeout = 60 * time.Second

// workflowFolders are created on connect so triage moves always have a
// destination.
var workflowFolders = []string{"COS_Actions", "COS_Assigned", "COS_ReadLater", "COS_Reference"}

// LocalBackend is the automation bridge surface the engine needs.
type LocalBackend interface {
	backend.Backend
	Status(ctx context.Context) (*bridge.AccountInfo, error)
}

// CloudBackend is the cloud API surface the engine needs.
type CloudBackend interface {
	backend.Backend
	Authorized() bool
	GetProfile(ctx context.Context) (*graph.Profile, error)
}

var (
	_ LocalBackend = (*bridge.Client)(nil)
	_ CloudBackend = (*graph.Client)(nil)
)

// Engine selects a backend and serves item operations over it.
type Engine struct {
	local    LocalBackend
	cloud    CloudBackend
	analyzer analysis.Analyzer

	mu           sync.Mutex
	active       backend.Backend
	state        models.ConnectionState
	extractor    *extract.Extractor
	orchestrator *analysis.Orchestrator
}

// New creates an engine. Either backend may be nil when not configured, but
// Connect fails if both are.
func New(local LocalBackend, cloud CloudBackend, analyzer analysis.Analyzer) *Engine {
	return &Engine{local: local, cloud: cloud, analyzer: analyzer}
}

// Connect probes the local bridge first and falls back to the cloud API. On
// success it rebuilds the extraction pipeline on the selected backend and
// makes sure the workflow folders exist. The returned state carries a
// remediation hint when nothing connected.
func (e *Engine) Connect(ctx context.Context) (models.ConnectionState, error) {
	state, active := e.probe(ctx)

	e.mu.Lock()
	e.active = active
	e.state = state
	if active != nil {
		e.extractor = extract.New(active, recipients.NewResolver(nil))
		e.orchestrator = analysis.New(active, e.analyzer)
	} else {
		e.extractor = nil
		e.orchestrator = nil
	}
	e.mu.Unlock()

	if active == nil {
		return state, fmt.Errorf("%w: %s", ErrConnectionUnavailable, state.Remediation)
	}

	e.ensureWorkflowFolders(ctx, active)

	e.mu.Lock()
	e.state.FoldersChecked = true
	state = e.state
	e.mu.Unlock()

	log.Printf("Connected via %s as %s", state.Protocol, state.Account["address"])
	return state, nil
}

// probe tries the backends in preference order and reports the resulting
// connection state.
func (e *Engine) probe(ctx context.Context) (models.ConnectionState, backend.Backend) {
	var bridgeErr error
	if e.local != nil {
		account, err := e.local.Status(ctx)
		if err == nil {
			return models.ConnectionState{
				Protocol:  models.ProtocolBridge,
				Connected: true,
				Account: map[string]string{
					"name":    account.DisplayName,
					"address": account.Address,
				},
			}, e.local
		}
		bridgeErr = err
		log.Printf("Warning: local bridge unavailable: %v", err)
	}

	if e.cloud != nil {
		if !e.cloud.Authorized() {
			return models.ConnectionState{
				Remediation: "no cached cloud authorization; run the sign-in flow to create one",
			}, nil
		}
		profile, err := e.cloud.GetProfile(ctx)
		if err == nil {
			return models.ConnectionState{
				Protocol:  models.ProtocolCloud,
				Connected: true,
				Account: map[string]string{
					"name":    profile.DisplayName,
					"address": profile.Mail,
				},
			}, e.cloud
		}
		log.Printf("Warning: cloud API unavailable: %v", err)
		return models.ConnectionState{
			Remediation: "cloud API rejected the request; re-run the sign-in flow or check network access",
		}, nil
	}

	if bridgeErr != nil {
		return models.ConnectionState{
			Remediation: "start the local mail client, or configure cloud credentials as a fallback",
		}, nil
	}
	return models.ConnectionState{
		Remediation: "no backends configured; set a bridge URL or cloud credentials",
	}, nil
}

// ensureWorkflowFolders creates the triage folders, tolerating ones that
// already exist. Failures are logged; a missing folder only matters once a
// move targets it.
func (e *Engine) ensureWorkflowFolders(ctx context.Context, b backend.Backend) {
	for _, name := range workflowFolders {
		if err := b.CreateFolder(ctx, name, ""); err != nil {
			log.Printf("Warning: failed to ensure folder %s: %v", name, err)
		}
	}
}

// State returns the last connection state.
func (e *Engine) State() models.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// backendAndPipeline returns the connected pipeline or ErrConnectionUnavailable.
func (e *Engine) backendAndPipeline() (backend.Backend, *extract.Extractor, *analysis.Orchestrator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil, nil, nil, ErrConnectionUnavailable
	}
	return e.active, e.extractor, e.orchestrator, nil
}

// LoadFolder extracts snapshots for the folder's newest items.
func (e *Engine) LoadFolder(ctx context.Context, folder string, limit int) ([]*models.MailItemSnapshot, error) {
	_, extractor, _, err := e.backendAndPipeline()
	if err != nil {
		return nil, err
	}
	return extractor.LoadFolder(ctx, folder, limit)
}

// LoadItem extracts one item's snapshot.
func (e *Engine) LoadItem(ctx context.Context, id string) (*models.MailItemSnapshot, error) {
	_, extractor, _, err := e.backendAndPipeline()
	if err != nil {
		return nil, err
	}
	return extractor.Extract(ctx, id)
}

// EnsureAnnotation loads the item and makes sure it carries an annotation,
// computing one when needed. forceRefresh recomputes even when a usable
// record exists. The whole run is bounded by annotationTimeout.
func (e *Engine) EnsureAnnotation(ctx context.Context, id string, forceRefresh bool) (*analysis.Result, error) {
	_, extractor, orchestrator, err := e.backendAndPipeline()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, annotationTimeout)
	defer cancel()

	if forceRefresh {
		extractor.Invalidate(id)
	}
	item, err := extractor.Extract(runCtx, id)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w while loading %s", ErrAnalysisTimeout, id)
		}
		return nil, err
	}

	result, err := orchestrator.EnsureAnnotation(runCtx, item, forceRefresh)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w for %s", ErrAnalysisTimeout, id)
		}
		return nil, err
	}
	return result, nil
}

// MoveItem moves the item and drops its cached snapshot, since a move can
// change what a re-read returns.
func (e *Engine) MoveItem(ctx context.Context, id, folderName string) error {
	active, extractor, _, err := e.backendAndPipeline()
	if err != nil {
		return err
	}
	if err := active.MoveItem(ctx, id, folderName); err != nil {
		return err
	}
	extractor.Invalidate(id)
	return nil
}

// CreateFolder creates a folder under the given parent ("" for top level).
func (e *Engine) CreateFolder(ctx context.Context, name, parent string) error {
	active, _, _, err := e.backendAndPipeline()
	if err != nil {
		return err
	}
	return active.CreateFolder(ctx, name, parent)
}

// ListFolders lists the mailbox's folders.
func (e *Engine) ListFolders(ctx context.Context) ([]string, error) {
	active, _, _, err := e.backendAndPipeline()
	if err != nil {
		return nil, err
	}
	return active.ListFolders(ctx)
}

// CacheStats reports the extraction cache's state.
func (e *Engine) CacheStats() extract.CacheStats {
	_, extractor, _, err := e.backendAndPipeline()
	if err != nil {
		return extract.CacheStats{}
	}
	return extractor.Stats()
}

// ClearCache empties the extraction cache.
func (e *Engine) ClearCache() {
	_, extractor, _, err := e.backendAndPipeline()
	if err != nil {
		return
	}
	extractor.ClearCache()
}
