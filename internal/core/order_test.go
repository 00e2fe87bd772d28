package core_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/serroba/docsync/internal/core"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, n int) []core.Change {
	t.Helper()

	doc := core.New()

	var out []core.Change

	for i := range n {
		chs, err := doc.Change(set("step", i))
		require.NoError(t, err)

		out = append(out, chs...)
	}

	return out
}

func TestOrder_ReversedChain(t *testing.T) {
	t.Parallel()

	changes := chain(t, 5)
	reversed := slices.Clone(changes)
	slices.Reverse(reversed)

	ordered := core.Order(reversed)

	for i := range changes {
		if ordered[i].Hash != changes[i].Hash {
			t.Errorf("position %d: expected %s, got %s", i, changes[i].Hash, ordered[i].Hash)
		}
	}

	// Applying the reordered batch must succeed on an empty replica.
	require.NoError(t, core.New().Apply(ordered...))
}

func TestOrder_ExternalDepsAreRoots(t *testing.T) {
	t.Parallel()

	changes := chain(t, 3)
	tail := []core.Change{changes[2], changes[1]}

	ordered := core.Order(tail)
	require.Equal(t, changes[1].Hash, ordered[0].Hash)
	require.Equal(t, changes[2].Hash, ordered[1].Hash)
}

func TestOrder_Deterministic(t *testing.T) {
	t.Parallel()

	a := chain(t, 1)
	b := chain(t, 1)
	c := chain(t, 1)

	first := core.Order([]core.Change{a[0], b[0], c[0]})
	second := core.Order([]core.Change{c[0], a[0], b[0]})

	for i := range first {
		require.Equal(t, first[i].Hash, second[i].Hash)
	}
}

func TestParseChangeHash(t *testing.T) {
	t.Parallel()

	changes := chain(t, 1)
	h := changes[0].Hash

	parsed, err := core.ParseChangeHash(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	_, err = core.ParseChangeHash("abc")
	if !errors.Is(err, core.ErrInvalidHash) {
		t.Errorf("expected ErrInvalidHash, got %v", err)
	}

	_, err = core.HashFromBytes([]byte{1, 2})
	if !errors.Is(err, core.ErrInvalidHash) {
		t.Errorf("expected ErrInvalidHash, got %v", err)
	}
}

func TestEqualHeads(t *testing.T) {
	t.Parallel()

	x := core.ChangeHash{1}
	y := core.ChangeHash{2}

	require.True(t, core.EqualHeads([]core.ChangeHash{x, y}, []core.ChangeHash{y, x}))
	require.False(t, core.EqualHeads([]core.ChangeHash{x}, []core.ChangeHash{y}))
	require.False(t, core.EqualHeads([]core.ChangeHash{x}, nil))
	require.True(t, core.EqualHeads(nil, []core.ChangeHash{}))
}
