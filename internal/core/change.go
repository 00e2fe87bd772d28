// Package core wraps the automerge engine behind the small surface the
// replication layer needs: frontiers, change extraction, idempotent apply,
// fork/merge and immutable read snapshots.
package core

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/automerge/automerge-go"
)

// Common errors.
var (
	ErrInvalidChange = errors.New("invalid change")
	ErrInvalidHash   = errors.New("invalid change hash")
)

// ChangeHash is the content hash identifying a Change.
type ChangeHash [32]byte

// ParseChangeHash decodes the hex form produced by String.
func ParseChangeHash(s string) (ChangeHash, error) {
	var h ChangeHash

	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(h) {
		return h, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}

	copy(h[:], raw)

	return h, nil
}

// HashFromBytes copies a 32 byte slice into a ChangeHash.
func HashFromBytes(b []byte) (ChangeHash, error) {
	var h ChangeHash

	if len(b) != len(h) {
		return h, fmt.Errorf("%w: %d bytes", ErrInvalidHash, len(b))
	}

	copy(h[:], b)

	return h, nil
}

func (h ChangeHash) String() string {
	return hex.EncodeToString(h[:])
}

// Compare orders hashes bytewise.
func (h ChangeHash) Compare(other ChangeHash) int {
	return bytes.Compare(h[:], other[:])
}

// Change is an immutable unit of history. Hash and Deps travel next to the
// raw bytes so a receiver can order changes before handing them to the engine.
type Change struct {
	Hash ChangeHash
	Deps []ChangeHash
	Raw  []byte

	ch *automerge.Change
}

// NewChange assembles a change received from a peer or read from storage.
// The engine checks Raw against Hash when the change is applied.
func NewChange(hash ChangeHash, deps []ChangeHash, raw []byte) (Change, error) {
	if len(raw) == 0 {
		return Change{}, fmt.Errorf("%w: %s has no content", ErrInvalidChange, hash)
	}

	sorted := slices.Clone(deps)
	SortHashes(sorted)

	if slices.Contains(sorted, hash) {
		return Change{}, fmt.Errorf("%w: %s depends on itself", ErrInvalidChange, hash)
	}

	return Change{Hash: hash, Deps: sorted, Raw: slices.Clone(raw)}, nil
}

func fromEngine(ch *automerge.Change) Change {
	deps := ch.Dependencies()
	out := make([]ChangeHash, 0, len(deps))

	for _, d := range deps {
		out = append(out, ChangeHash(d))
	}

	SortHashes(out)

	return Change{
		Hash: ChangeHash(ch.Hash()),
		Deps: out,
		Raw:  ch.Save(),
		ch:   ch,
	}
}

// SortHashes sorts in place so frontiers compare independent of order.
func SortHashes(hs []ChangeHash) {
	slices.SortFunc(hs, ChangeHash.Compare)
}

// EqualHeads reports whether two frontiers contain the same hashes.
func EqualHeads(a, b []ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}

	as := slices.Clone(a)
	bs := slices.Clone(b)
	SortHashes(as)
	SortHashes(bs)

	return slices.Equal(as, bs)
}
