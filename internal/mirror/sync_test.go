package mirror_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/graph"
	"github.com/cosmail/engine/internal/mirror"
	"github.com/cosmail/engine/internal/testutil"
)

// fakeSource scripts list and delta responses keyed by link.
type fakeSource struct {
	listed      []graph.Message
	listedSince time.Time
	// deltaPages maps a request link ("" for a fresh walk) to its response.
	deltaPages map[string]*graph.DeltaPage
	deltaErrs  map[string]error
	messages   map[string]graph.Message
	deltaCalls []string
}

func (f *fakeSource) ListMessagesSince(ctx context.Context, since time.Time, fn func(graph.Message) error) error {
	f.listedSince = since
	for _, msg := range f.listed {
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) Delta(ctx context.Context, link string) (*graph.DeltaPage, error) {
	f.deltaCalls = append(f.deltaCalls, link)
	if err, ok := f.deltaErrs[link]; ok {
		return nil, err
	}
	page, ok := f.deltaPages[link]
	if !ok {
		return nil, fmt.Errorf("unexpected delta link %q", link)
	}
	return page, nil
}

func (f *fakeSource) GetMessage(ctx context.Context, id string) (graph.Message, error) {
	msg, ok := f.messages[id]
	if !ok {
		return graph.Message{}, backend.ErrItemNotFound
	}
	return msg, nil
}

func TestInitialSync(t *testing.T) {
	pool := testutil.NewTestDB(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	source := &fakeSource{
		listed: []graph.Message{testMessage("m1", base), testMessage("m2", base.Add(time.Hour))},
		deltaPages: map[string]*graph.DeltaPage{
			"":       {NextLink: "next-1"},
			"next-1": {DeltaLink: "delta-final"},
		},
	}
	syncer := mirror.NewSyncer(pool, source, "inbox", 14)

	stats, err := syncer.InitialSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Upserted)
	assert.True(t, stats.FullResync)

	// The window bounds the list query.
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -14), source.listedSince, time.Minute)

	count, err := mirror.CountMessages(context.Background(), pool, "inbox")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	link, err := mirror.GetCursor(context.Background(), pool, "inbox")
	require.NoError(t, err)
	assert.Equal(t, "delta-final", link)
}

func TestSyncWithoutCursorRunsInitialSync(t *testing.T) {
	pool := testutil.NewTestDB(t)

	source := &fakeSource{
		listed: []graph.Message{testMessage("m1", time.Now().UTC())},
		deltaPages: map[string]*graph.DeltaPage{
			"": {DeltaLink: "delta-1"},
		},
	}
	syncer := mirror.NewSyncer(pool, source, "inbox", 30)

	stats, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.FullResync)
	assert.Equal(t, 1, stats.Upserted)
}

func TestSyncAppliesRemovalsBeforeUpserts(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// Seed a mirrored message and a cursor.
	require.NoError(t, mirror.UpsertMessage(ctx, pool, "inbox", testMessage("gone", base)))
	require.NoError(t, mirror.SaveCursor(ctx, pool, "inbox", "delta-1"))

	// One page carries both the tombstone for "gone" and a re-add under a new
	// id, plus an unrelated update.
	source := &fakeSource{
		deltaPages: map[string]*graph.DeltaPage{
			"delta-1": {
				Messages: []graph.Message{
					testMessage("fresh", base.Add(time.Hour)),
					{ID: "gone", Removed: true},
				},
				NextLink: "next-1",
			},
			"next-1": {
				Messages:  []graph.Message{testMessage("late", base.Add(2*time.Hour))},
				DeltaLink: "delta-2",
			},
		},
	}
	syncer := mirror.NewSyncer(pool, source, "inbox", 30)

	stats, err := syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Upserted)
	assert.Equal(t, 1, stats.Removed)
	assert.False(t, stats.FullResync)

	_, err = mirror.GetMessage(ctx, pool, "gone")
	assert.ErrorIs(t, err, mirror.ErrRowNotFound)
	_, err = mirror.GetMessage(ctx, pool, "fresh")
	assert.NoError(t, err)
	_, err = mirror.GetMessage(ctx, pool, "late")
	assert.NoError(t, err)

	link, err := mirror.GetCursor(ctx, pool, "inbox")
	require.NoError(t, err)
	assert.Equal(t, "delta-2", link)
}

func TestSyncIdempotentWhenNothingChanged(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, mirror.UpsertMessage(ctx, pool, "inbox", testMessage("m1", base)))
	require.NoError(t, mirror.SaveCursor(ctx, pool, "inbox", "delta-1"))

	// An empty caught-up page is all the cloud returns while nothing changes.
	source := &fakeSource{
		deltaPages: map[string]*graph.DeltaPage{
			"delta-1": {DeltaLink: "delta-1"},
		},
	}
	syncer := mirror.NewSyncer(pool, source, "inbox", 30)

	for i := 0; i < 2; i++ {
		stats, err := syncer.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Upserted)
		assert.Equal(t, 0, stats.Removed)
		assert.False(t, stats.FullResync)
	}

	count, err := mirror.CountMessages(ctx, pool, "inbox")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncInvalidCursorTriggersFullResync(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	require.NoError(t, mirror.SaveCursor(ctx, pool, "inbox", "stale-cursor"))

	source := &fakeSource{
		listed: []graph.Message{testMessage("m1", time.Now().UTC())},
		deltaErrs: map[string]error{
			"stale-cursor": fmt.Errorf("delta request failed: %w", backend.ErrCursorInvalid),
		},
		deltaPages: map[string]*graph.DeltaPage{
			"": {DeltaLink: "delta-rebuilt"},
		},
	}
	syncer := mirror.NewSyncer(pool, source, "inbox", 30)

	stats, err := syncer.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, stats.FullResync)
	assert.Equal(t, 1, stats.Upserted)

	link, err := mirror.GetCursor(ctx, pool, "inbox")
	require.NoError(t, err)
	assert.Equal(t, "delta-rebuilt", link)
}

func TestSyncMessage(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	source := &fakeSource{messages: map[string]graph.Message{"m1": testMessage("m1", base)}}
	syncer := mirror.NewSyncer(pool, source, "inbox", 30)

	require.NoError(t, syncer.SyncMessage(ctx, "m1"))
	got, err := mirror.GetMessage(ctx, pool, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Subject m1", got.Subject)

	// A message the cloud no longer has is dropped from the mirror.
	delete(source.messages, "m1")
	require.NoError(t, syncer.SyncMessage(ctx, "m1"))
	_, err = mirror.GetMessage(ctx, pool, "m1")
	assert.ErrorIs(t, err, mirror.ErrRowNotFound)
}
