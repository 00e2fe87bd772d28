package core

import (
	"fmt"
	"maps"
	"slices"

	"github.com/automerge/automerge-go"
)

// Mutator edits a private fork of a document. Returning an error discards the fork.
type Mutator func(doc *automerge.Doc) error

// Document is a live replica. It is not safe for concurrent use; callers
// serialize access (DocHandle holds a mutex around every call).
type Document struct {
	doc   *automerge.Doc
	known map[ChangeHash]struct{}
}

// New returns an empty document with a fresh actor.
func New() *Document {
	return &Document{
		doc:   automerge.New(),
		known: make(map[ChangeHash]struct{}),
	}
}

// Load rebuilds a document from saved snapshots followed by incremental
// change records (see Change.MarshalBinary). Records may arrive in any order
// and may duplicate snapshot content.
func Load(snapshots [][]byte, changes [][]byte) (*Document, error) {
	d := New()

	for _, raw := range snapshots {
		other, err := automerge.Load(raw)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}

		chs, err := other.Changes()
		if err != nil {
			return nil, fmt.Errorf("read snapshot changes: %w", err)
		}

		if err := d.applyEngine(chs); err != nil {
			return nil, err
		}
	}

	decoded := make([]Change, 0, len(changes))

	for _, rec := range changes {
		c, err := UnmarshalChange(rec)
		if err != nil {
			return nil, err
		}

		decoded = append(decoded, c)
	}

	if err := d.Apply(Order(decoded)...); err != nil {
		return nil, err
	}

	return d, nil
}

// Heads returns the sorted frontier.
func (d *Document) Heads() []ChangeHash {
	heads := d.doc.Heads()
	out := make([]ChangeHash, 0, len(heads))

	for _, h := range heads {
		out = append(out, ChangeHash(h))
	}

	SortHashes(out)

	return out
}

// Has reports whether the change is part of this document's history.
func (d *Document) Has(h ChangeHash) bool {
	_, ok := d.known[h]

	return ok
}

// Len returns the number of changes in the history.
func (d *Document) Len() int {
	return len(d.known)
}

// ChangesSince returns the changes not reachable from heads, in causal order.
// Hashes in heads that this document does not know are ignored.
func (d *Document) ChangesSince(heads []ChangeHash) ([]Change, error) {
	since := make([]automerge.ChangeHash, 0, len(heads))

	for _, h := range heads {
		if d.Has(h) {
			since = append(since, automerge.ChangeHash(h))
		}
	}

	chs, err := d.doc.Changes(since...)
	if err != nil {
		return nil, fmt.Errorf("changes since: %w", err)
	}

	out := make([]Change, 0, len(chs))
	for _, ch := range chs {
		out = append(out, fromEngine(ch))
	}

	return Order(out), nil
}

// Apply integrates changes. Changes already present are skipped; every
// dependency of each change must be known or earlier in the batch.
func (d *Document) Apply(chs ...Change) error {
	before := d.doc.Heads()
	batch := make(map[ChangeHash]struct{}, len(chs))

	var err error

	for _, c := range chs {
		if d.Has(c.Hash) {
			continue
		}

		if _, dup := batch[c.Hash]; dup {
			continue
		}

		for _, dep := range c.Deps {
			_, inBatch := batch[dep]
			if !d.Has(dep) && !inBatch {
				err = fmt.Errorf("%w: %s depends on unknown %s", ErrInvalidChange, c.Hash, dep)

				break
			}
		}

		if err != nil {
			break
		}

		if err = d.integrate(c); err != nil {
			break
		}

		batch[c.Hash] = struct{}{}
	}

	if len(batch) == 0 {
		return err
	}

	// Whatever reached the engine is history now, even if a later change failed.
	if rerr := d.refresh(before); rerr != nil {
		return rerr
	}

	if err != nil {
		return err
	}

	for h := range batch {
		if !d.Has(h) {
			return fmt.Errorf("%w: %s does not match its content", ErrInvalidChange, h)
		}
	}

	return nil
}

// integrate hands one change to the engine. Changes produced locally carry
// the engine's own value; everything else is decoded into this document.
func (d *Document) integrate(c Change) error {
	if c.ch != nil {
		if err := d.doc.Apply(c.ch); err != nil {
			return fmt.Errorf("apply change %s: %w", c.Hash, err)
		}

		return nil
	}

	if err := d.doc.LoadIncremental(c.Raw); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidChange, c.Hash, err)
	}

	return nil
}

func (d *Document) applyEngine(chs []*automerge.Change) error {
	if len(chs) == 0 {
		return nil
	}

	before := d.doc.Heads()

	if err := d.doc.Apply(chs...); err != nil {
		return fmt.Errorf("apply changes: %w", err)
	}

	return d.refresh(before)
}

// refresh records every change added to the engine since before.
func (d *Document) refresh(before []automerge.ChangeHash) error {
	chs, err := d.doc.Changes(before...)
	if err != nil {
		return fmt.Errorf("read new changes: %w", err)
	}

	for _, ch := range chs {
		d.known[ChangeHash(ch.Hash())] = struct{}{}
	}

	return nil
}

// Fork returns an independent copy sharing this document's actor, so that
// changes made on the fork continue this replica's sequence.
func (d *Document) Fork() (*Document, error) {
	f, err := d.doc.Fork()
	if err != nil {
		return nil, fmt.Errorf("fork: %w", err)
	}

	if err := f.SetActorID(d.doc.ActorID()); err != nil {
		return nil, fmt.Errorf("fork actor: %w", err)
	}

	return &Document{doc: f, known: maps.Clone(d.known)}, nil
}

// Merge pulls every change of other that d lacks and returns them.
func (d *Document) Merge(other *Document) ([]Change, error) {
	missing, err := other.ChangesSince(d.Heads())
	if err != nil {
		return nil, err
	}

	missing = slices.DeleteFunc(missing, func(c Change) bool { return d.Has(c.Hash) })

	if err := d.Apply(missing...); err != nil {
		return nil, err
	}

	return missing, nil
}

// Change runs fn against a fork and merges the result. A failing fn leaves d
// untouched; a fn that edits nothing yields no changes.
func (d *Document) Change(fn Mutator) ([]Change, error) {
	fork, err := d.Fork()
	if err != nil {
		return nil, err
	}

	before := fork.doc.Heads()

	if err := fn(fork.doc); err != nil {
		return nil, err
	}

	// Reading heads closes the engine's pending transaction.
	if EqualHeads(fork.Heads(), d.Heads()) {
		return nil, nil
	}

	if err := fork.refresh(before); err != nil {
		return nil, err
	}

	return d.Merge(fork)
}

// Save serializes the whole document.
func (d *Document) Save() []byte {
	return d.doc.Save()
}

// ActorID returns this replica's actor.
func (d *Document) ActorID() string {
	return d.doc.ActorID()
}
