package protocol

import (
	"errors"
	"fmt"
	"slices"

	"github.com/serroba/docsync/internal/core"
)

// ErrPendingOverflow is returned when too many changes wait on missing dependencies.
var ErrPendingOverflow = errors.New("pending change buffer overflow")

// Pending holds received changes until their dependencies are present.
type Pending struct {
	limit   int
	changes map[core.ChangeHash]core.Change
}

// NewPending creates a buffer holding at most limit changes.
func NewPending(limit int) *Pending {
	return &Pending{
		limit:   limit,
		changes: make(map[core.ChangeHash]core.Change),
	}
}

// Add buffers changes. Exceeding the limit drops everything buffered.
func (p *Pending) Add(chs ...core.Change) error {
	for _, c := range chs {
		p.changes[c.Hash] = c
	}

	if p.limit > 0 && len(p.changes) > p.limit {
		n := len(p.changes)
		clear(p.changes)

		return fmt.Errorf("%w: %d changes", ErrPendingOverflow, n)
	}

	return nil
}

// Release removes and returns every buffered change whose dependencies are
// satisfied by has or by an earlier released change, in dependency order.
// Changes has already reports are discarded.
func (p *Pending) Release(has func(core.ChangeHash) bool) []core.Change {
	var out []core.Change

	released := make(map[core.ChangeHash]struct{})
	ready := func(h core.ChangeHash) bool {
		if has(h) {
			return true
		}

		_, ok := released[h]

		return ok
	}

	for progress := true; progress; {
		progress = false

		hashes := make([]core.ChangeHash, 0, len(p.changes))
		for h := range p.changes {
			hashes = append(hashes, h)
		}

		core.SortHashes(hashes)

		for _, h := range hashes {
			c := p.changes[h]

			if has(h) {
				delete(p.changes, h)

				continue
			}

			if !slices.ContainsFunc(c.Deps, func(d core.ChangeHash) bool { return !ready(d) }) {
				out = append(out, c)
				released[h] = struct{}{}
				delete(p.changes, h)

				progress = true
			}
		}
	}

	return out
}

// Len returns the number of buffered changes.
func (p *Pending) Len() int {
	return len(p.changes)
}

// Missing returns dependencies referenced by buffered changes that are
// neither buffered nor reported by has.
func (p *Pending) Missing(has func(core.ChangeHash) bool) []core.ChangeHash {
	seen := make(map[core.ChangeHash]struct{})

	var out []core.ChangeHash

	for _, c := range p.changes {
		for _, d := range c.Deps {
			if _, buffered := p.changes[d]; buffered || has(d) {
				continue
			}

			if _, dup := seen[d]; !dup {
				seen[d] = struct{}{}
				out = append(out, d)
			}
		}
	}

	core.SortHashes(out)

	return out
}
