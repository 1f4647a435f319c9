package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/graph"
)

// Source is the slice of the cloud client the syncer needs.
type Source interface {
	ListMessagesSince(ctx context.Context, since time.Time, fn func(graph.Message) error) error
	Delta(ctx context.Context, link string) (*graph.DeltaPage, error)
	GetMessage(ctx context.Context, id string) (graph.Message, error)
}

// SyncStats summarizes one sync run.
type SyncStats struct {
	Upserted int
	Removed  int
	Skipped  int
	// FullResync is true when the run discarded its cursor and rebuilt the
	// mirror from scratch.
	FullResync bool
}

// Syncer keeps one mailbox's mirror current against a cloud source.
type Syncer struct {
	pool       *pgxpool.Pool
	source     Source
	mailbox    string
	windowDays int
}

// NewSyncer creates a syncer for one mailbox. windowDays bounds how far back
// the initial sync reaches.
func NewSyncer(pool *pgxpool.Pool, source Source, mailbox string, windowDays int) *Syncer {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Syncer{pool: pool, source: source, mailbox: mailbox, windowDays: windowDays}
}

// InitialSync populates the mirror from a windowed list query, then runs an
// unbounded delta walk purely to obtain the first cursor. Only after the walk
// completes is the cursor stored, so an interrupted initial sync restarts
// cleanly.
func (s *Syncer) InitialSync(ctx context.Context) (*SyncStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -s.windowDays)
	log.Printf("Initial sync for %s: loading messages since %s", s.mailbox, since.Format(time.RFC3339))

	stats := &SyncStats{FullResync: true}
	err := s.source.ListMessagesSince(ctx, since, func(msg graph.Message) error {
		if err := UpsertMessage(ctx, s.pool, s.mailbox, msg); err != nil {
			log.Printf("Warning: skipping mirror row %s: %v", msg.ID, err)
			stats.Skipped++
			return nil
		}
		stats.Upserted++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initial sync listing failed for %s: %w", s.mailbox, err)
	}

	// Walk the delta query to its end, discarding payloads. The only output
	// that matters here is the delta link, which marks "now" for future runs.
	link := ""
	for {
		page, err := s.source.Delta(ctx, link)
		if err != nil {
			return nil, fmt.Errorf("initial delta walk failed for %s: %w", s.mailbox, err)
		}
		if page.DeltaLink != "" {
			if err := SaveCursor(ctx, s.pool, s.mailbox, page.DeltaLink); err != nil {
				return nil, err
			}
			break
		}
		if page.NextLink == "" {
			return nil, fmt.Errorf("initial delta walk for %s ended without a cursor", s.mailbox)
		}
		link = page.NextLink
	}

	log.Printf("Initial sync for %s complete: %d upserted, %d skipped", s.mailbox, stats.Upserted, stats.Skipped)
	return stats, nil
}

// Sync applies pending remote changes to the mirror. With no stored cursor it
// falls back to InitialSync; with a cursor the cloud rejects, it discards the
// cursor and rebuilds. Within each page removals are applied before upserts,
// and the cursor advances only after the page's rows are applied.
func (s *Syncer) Sync(ctx context.Context) (*SyncStats, error) {
	cursor, err := GetCursor(ctx, s.pool, s.mailbox)
	if err != nil {
		return nil, err
	}
	if cursor == "" {
		return s.InitialSync(ctx)
	}

	stats := &SyncStats{}
	link := cursor
	for {
		page, err := s.source.Delta(ctx, link)
		if err != nil {
			if errors.Is(err, backend.ErrCursorInvalid) {
				log.Printf("Warning: sync cursor for %s rejected, rebuilding mirror", s.mailbox)
				if err := DeleteCursor(ctx, s.pool, s.mailbox); err != nil {
					return nil, err
				}
				return s.InitialSync(ctx)
			}
			return nil, fmt.Errorf("delta sync failed for %s: %w", s.mailbox, err)
		}

		s.applyPage(ctx, page, stats)

		if page.DeltaLink != "" {
			if err := SaveCursor(ctx, s.pool, s.mailbox, page.DeltaLink); err != nil {
				return nil, err
			}
			break
		}
		if page.NextLink == "" {
			return nil, fmt.Errorf("delta sync for %s ended without a cursor", s.mailbox)
		}
		link = page.NextLink
	}

	log.Printf("Delta sync for %s: %d upserted, %d removed, %d skipped", s.mailbox, stats.Upserted, stats.Removed, stats.Skipped)
	return stats, nil
}

// applyPage applies one delta page, removals first. Individual row failures
// are logged and skipped so one bad message does not stall the cursor.
func (s *Syncer) applyPage(ctx context.Context, page *graph.DeltaPage, stats *SyncStats) {
	for _, msg := range page.Messages {
		if !msg.Removed {
			continue
		}
		if err := DeleteMessage(ctx, s.pool, msg.ID); err != nil {
			log.Printf("Warning: failed to remove mirror row %s: %v", msg.ID, err)
			stats.Skipped++
			continue
		}
		stats.Removed++
	}
	for _, msg := range page.Messages {
		if msg.Removed {
			continue
		}
		if err := UpsertMessage(ctx, s.pool, s.mailbox, msg); err != nil {
			log.Printf("Warning: skipping mirror row %s: %v", msg.ID, err)
			stats.Skipped++
			continue
		}
		stats.Upserted++
	}
}

// SyncMessage refreshes a single mirror row from the cloud, outside the delta
// stream. A message deleted remotely is removed locally.
func (s *Syncer) SyncMessage(ctx context.Context, id string) error {
	msg, err := s.source.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, backend.ErrItemNotFound) {
			return DeleteMessage(ctx, s.pool, id)
		}
		return fmt.Errorf("failed to refresh message %s: %w", id, err)
	}
	return UpsertMessage(ctx, s.pool, s.mailbox, msg)
}
