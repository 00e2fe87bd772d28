package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/automerge/automerge-go"
	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
	"github.com/serroba/docsync/internal/storage"
	"github.com/stretchr/testify/require"
)

func edit(t *testing.T, doc *core.Document, key string, value any) []core.Change {
	t.Helper()

	chs, err := doc.Change(func(d *automerge.Doc) error { return d.Path(key).Set(value) })
	require.NoError(t, err)

	return chs
}

func TestDocumentStore_LoadMissing(t *testing.T) {
	t.Parallel()

	store := storage.NewDocumentStore(storage.NewMemoryAdapter())

	_, err := store.Load(context.Background(), docid.New())
	if !errors.Is(err, storage.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestDocumentStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewDocumentStore(storage.NewMemoryAdapter())
	id := docid.New()

	doc := core.New()
	require.NoError(t, store.SaveSnapshot(ctx, id, doc.Save(), doc.Heads()))

	require.NoError(t, store.SaveChanges(ctx, id, edit(t, doc, "a", 1)))
	require.NoError(t, store.SaveChanges(ctx, id, edit(t, doc, "b", 2)))

	chunks, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks.Snapshots, 1)
	require.Len(t, chunks.Changes, 2)

	loaded, err := core.Load(chunks.Snapshots, chunks.Changes)
	require.NoError(t, err)
	require.Equal(t, doc.Heads(), loaded.Heads())
}

func TestDocumentStore_RoundTripIncrementalsOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewDocumentStore(storage.NewMemoryAdapter())
	id := docid.New()

	doc := core.New()
	require.NoError(t, store.SaveSnapshot(ctx, id, doc.Save(), doc.Heads()))

	// Each change depends on the previous one and only the empty snapshot precedes them.
	for i := range 4 {
		require.NoError(t, store.SaveChanges(ctx, id, edit(t, doc, "n", i)))
	}

	chunks, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks.Changes, 4)

	loaded, err := core.Load(chunks.Snapshots, chunks.Changes)
	require.NoError(t, err)
	require.Equal(t, doc.Heads(), loaded.Heads())
	require.Equal(t, doc.Len(), loaded.Len())
}

func TestDocumentStore_SaveChangesIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	adapter := storage.NewMemoryAdapter()
	store := storage.NewDocumentStore(adapter)
	id := docid.New()

	chs := edit(t, core.New(), "a", 1)
	require.NoError(t, store.SaveChanges(ctx, id, chs))
	require.NoError(t, store.SaveChanges(ctx, id, chs))

	require.Equal(t, 1, adapter.Len())
}

func TestDocumentStore_Compact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	adapter := storage.NewMemoryAdapter()
	store := storage.NewDocumentStore(adapter)
	id := docid.New()

	doc := core.New()
	require.NoError(t, store.SaveSnapshot(ctx, id, doc.Save(), doc.Heads()))

	for i := range 5 {
		require.NoError(t, store.SaveChanges(ctx, id, edit(t, doc, "n", i)))
	}

	// A change the snapshot will not cover, e.g. written by another process.
	other := core.New()
	foreign := edit(t, other, "foreign", true)
	require.NoError(t, store.SaveChanges(ctx, id, foreign))

	require.NoError(t, store.Compact(ctx, id, doc.Save(), doc.Heads(), doc.Has))

	chunks, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks.Snapshots, 1)
	require.Len(t, chunks.Changes, 1, "uncovered incrementals survive compaction")

	loaded, err := core.Load(chunks.Snapshots, nil)
	require.NoError(t, err)
	require.Equal(t, doc.Heads(), loaded.Heads())
}

func TestDocumentStore_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	adapter := storage.NewMemoryAdapter()
	store := storage.NewDocumentStore(adapter)
	keep := docid.New()
	gone := docid.New()

	for _, id := range []docid.ID{keep, gone} {
		doc := core.New()
		require.NoError(t, store.SaveSnapshot(ctx, id, doc.Save(), doc.Heads()))
		require.NoError(t, store.SaveChanges(ctx, id, edit(t, doc, "x", 1)))
	}

	require.NoError(t, store.Delete(ctx, gone))

	_, err := store.Load(ctx, gone)
	require.ErrorIs(t, err, storage.ErrDocumentNotFound)

	_, err = store.Load(ctx, keep)
	require.NoError(t, err)
	require.Equal(t, 2, adapter.Len())
}

// failingAdapter fails every write.
type failingAdapter struct {
	*storage.MemoryAdapter
}

var errDiskFull = errors.New("disk full")

func (failingAdapter) Put(context.Context, storage.Key, []byte) error {
	return errDiskFull
}

func TestDocumentStore_PropagatesAdapterErrors(t *testing.T) {
	t.Parallel()

	store := storage.NewDocumentStore(failingAdapter{storage.NewMemoryAdapter()})
	doc := core.New()

	err := store.SaveSnapshot(context.Background(), docid.New(), doc.Save(), doc.Heads())
	if !errors.Is(err, errDiskFull) {
		t.Errorf("expected errDiskFull, got %v", err)
	}
}
