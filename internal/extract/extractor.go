// Package extract pulls full structured snapshots for many remote items
// efficiently. It is the only component with internal parallelism, and the
// bounds here are correctness requirements, not tuning: the automation bridge
// corrupts or hangs when driven past a small number of concurrent calls.
package extract

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/codec"
	"github.com/cosmail/engine/internal/models"
	"github.com/cosmail/engine/internal/recipients"
)

const (
	// subBatchSize bounds how many items are in flight at once.
	subBatchSize = 10
	// maxWorkers caps concurrent extraction calls against the backend.
	// Hard limit for the bridge; see the package comment.
	maxWorkers = 4
	// interBatchPause spaces out sub-batches so the automation surface can
	// drain between bursts.
	interBatchPause = 100 * time.Millisecond
)

// CacheStats reports the state of the memoization table.
type CacheStats struct {
	Items int `json:"items"`
}

// Extractor loads folder contents in bounded concurrent sub-batches and
// memoizes per-item results for the life of the process.
type Extractor struct {
	backend  backend.Backend
	resolver *recipients.Resolver
	limiter  *rate.Limiter

	mu    sync.Mutex
	cache map[string]*models.MailItemSnapshot
}

// New creates an extractor over the given backend.
func New(b backend.Backend, resolver *recipients.Resolver) *Extractor {
	limiter := rate.NewLimiter(rate.Every(interBatchPause), 1)
	// Drain the initial token so the first inter-batch wait is a full pause.
	limiter.Allow()
	return &Extractor{
		backend:  b,
		resolver: resolver,
		limiter:  limiter,
		cache:    make(map[string]*models.MailItemSnapshot),
	}
}

// LoadFolder lists the folder's newest items up to limit and extracts a full
// snapshot for each. A single item's failure is logged and leaves a gap; the
// rest of the batch keeps its original order.
func (e *Extractor) LoadFolder(ctx context.Context, folder string, limit int) ([]*models.MailItemSnapshot, error) {
	handles, err := e.backend.ListHandles(ctx, folder, limit)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return []*models.MailItemSnapshot{}, nil
	}

	log.Printf("Extracting %d items from folder %q", len(handles), folder)

	// Results are positional so failures leave gaps instead of reordering.
	results := make([]*models.MailItemSnapshot, len(handles))

	for start := 0; start < len(handles); start += subBatchSize {
		end := start + subBatchSize
		if end > len(handles) {
			end = len(handles)
		}

		grp, grpCtx := errgroup.WithContext(ctx)
		grp.SetLimit(maxWorkers)
		for i := start; i < end; i++ {
			grp.Go(func() error {
				snapshot, err := e.Extract(grpCtx, handles[i].ID)
				if err != nil {
					log.Printf("Warning: failed to extract item %s: %v", handles[i].ID, err)
					return nil
				}
				results[i] = snapshot
				return nil
			})
		}
		if err := grp.Wait(); err != nil {
			return nil, err
		}

		if end < len(handles) {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
	}

	snapshots := make([]*models.MailItemSnapshot, 0, len(handles))
	for _, s := range results {
		if s != nil {
			snapshots = append(snapshots, s)
		}
	}

	log.Printf("Extracted %d/%d items from folder %q", len(snapshots), len(handles), folder)
	return snapshots, nil
}

// Extract loads one item's snapshot, memoized per item id. The annotation is
// decoded from the same one-pass read; a bag that cannot be decoded degrades
// to an unannotated snapshot rather than failing the extraction.
func (e *Extractor) Extract(ctx context.Context, id string) (*models.MailItemSnapshot, error) {
	e.mu.Lock()
	if cached, ok := e.cache[id]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	raw, err := e.backend.LoadItem(ctx, id)
	if err != nil {
		return nil, err
	}

	snapshot := e.assemble(raw)

	e.mu.Lock()
	e.cache[id] = snapshot
	e.mu.Unlock()
	return snapshot, nil
}

// assemble builds the immutable snapshot from a raw one-pass read.
func (e *Extractor) assemble(raw *backend.RawItem) *models.MailItemSnapshot {
	sender := models.Participant{DisplayName: raw.SenderName, Address: raw.SenderAddress}
	lists := e.resolver.Resolve(raw.Participants, sender)

	snapshot := &models.MailItemSnapshot{
		ID:             raw.ID,
		Subject:        raw.Subject,
		Sender:         sender,
		To:             lists.To,
		Cc:             lists.Cc,
		Bcc:            lists.Bcc,
		FullContent:    raw.FullContent,
		Preview:        models.MakePreview(raw.FullContent),
		ReceivedAt:     raw.ReceivedAt,
		SentAt:         raw.SentAt,
		IsRead:         raw.IsRead,
		Importance:     models.ParseImportance(raw.RawImportance),
		HasAttachments: raw.HasAttachments,
		Categories:     raw.Categories,
		ConversationID: raw.ConversationID,
		Size:           raw.Size,
	}

	if raw.Properties != nil {
		annotation, err := codec.Decode(raw.Properties)
		if err != nil {
			log.Printf("Warning: failed to decode annotation on item %s: %v", raw.ID, err)
		} else {
			snapshot.Annotation = annotation
		}
	}

	return snapshot
}

// Invalidate drops one item from the memoization table, forcing the next
// extraction to re-read the remote item.
func (e *Extractor) Invalidate(id string) {
	e.mu.Lock()
	delete(e.cache, id)
	e.mu.Unlock()
}

// ClearCache empties the memoization table.
func (e *Extractor) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*models.MailItemSnapshot)
	e.mu.Unlock()
	log.Printf("Extraction cache cleared")
}

// Stats reports the memoization table's current size.
func (e *Extractor) Stats() CacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return CacheStats{Items: len(e.cache)}
}
