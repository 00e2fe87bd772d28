// Package storagetest holds the behaviour every storage adapter must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/serroba/docsync/internal/storage"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty adapter. Cleanup is registered on t.
type Factory func(t *testing.T) storage.Adapter

func key(t *testing.T, parts ...string) storage.Key {
	t.Helper()

	k, err := storage.NewKey(parts...)
	require.NoError(t, err)

	return k
}

func rangeKeys(t *testing.T, a storage.Adapter, prefix storage.Key) []string {
	t.Helper()

	entries, err := a.LoadRange(context.Background(), prefix)
	require.NoError(t, err)

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key.String())
	}

	slices.Sort(out)

	return out
}

// Run exercises an adapter against the storage contract.
func Run(t *testing.T, newAdapter Factory) {
	t.Helper()

	t.Run("LoadMissing", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Load(context.Background(), key(t, "doc", "missing"))
		if !errors.Is(err, storage.ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("PutLoad", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		value := []byte{0x00, 0xff, 0x10, '/', 0x00}

		require.NoError(t, a.Put(ctx, key(t, "doc", "snapshot", "abc"), value))

		got, err := a.Load(ctx, key(t, "doc", "snapshot", "abc"))
		require.NoError(t, err)
		require.Equal(t, value, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		k := key(t, "doc", "snapshot", "abc")

		require.NoError(t, a.Put(ctx, k, []byte("first")))
		require.NoError(t, a.Put(ctx, k, []byte("second")))

		got, err := a.Load(ctx, k)
		require.NoError(t, err)
		require.Equal(t, []byte("second"), got)
	})

	t.Run("LoadRange", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()

		for _, k := range []storage.Key{
			key(t, "doc1", "incremental", "a"),
			key(t, "doc1", "incremental", "b"),
			key(t, "doc1", "snapshot", "c"),
			key(t, "doc10", "incremental", "d"),
			key(t, "doc2", "snapshot", "e"),
		} {
			require.NoError(t, a.Put(ctx, k, []byte(k.String())))
		}

		require.Equal(t, []string{
			"doc1/incremental/a",
			"doc1/incremental/b",
			"doc1/snapshot/c",
		}, rangeKeys(t, a, key(t, "doc1")))

		require.Equal(t, []string{"doc1/incremental/a", "doc1/incremental/b"}, rangeKeys(t, a, key(t, "doc1", "incremental")))
		require.Empty(t, rangeKeys(t, a, key(t, "doc3")))

		entries, err := a.LoadRange(ctx, key(t, "doc2"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, []byte("doc2/snapshot/e"), entries[0].Value)
	})

	t.Run("Delete", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		k := key(t, "doc", "incremental", "a")

		require.NoError(t, a.Put(ctx, k, []byte("x")))
		require.NoError(t, a.Delete(ctx, k))

		_, err := a.Load(ctx, k)
		if !errors.Is(err, storage.ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
		}

		require.Empty(t, rangeKeys(t, a, key(t, "doc")))
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		a := newAdapter(t)

		require.NoError(t, a.Delete(context.Background(), key(t, "doc", "nothing")))
	})

	t.Run("ConcurrentPuts", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()

		var wg sync.WaitGroup

		errs := make(chan error, 20)

		for i := range 20 {
			wg.Add(1)

			go func(n int) {
				defer wg.Done()

				errs <- a.Put(ctx, storage.Key{"doc", "incremental", fmt.Sprintf("h%02d", n)}, []byte{byte(n)})
			}(i)
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		require.Len(t, rangeKeys(t, a, key(t, "doc")), 20)
	})
}
