package core

import (
	"fmt"
	"slices"
)

// Snapshot is an immutable view of a document at a frontier.
type Snapshot struct {
	Heads []ChangeHash
	Value map[string]any
}

// Get returns a top-level field.
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s.Value[key]

	return v, ok
}

// Empty reports whether the snapshot has no history.
func (s Snapshot) Empty() bool {
	return len(s.Heads) == 0
}

// Snapshot materializes the current state. The result shares nothing with d.
func (d *Document) Snapshot() (Snapshot, error) {
	root, err := d.doc.Path().Get()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read root: %w", err)
	}

	value, _ := root.Interface().(map[string]any)
	if value == nil {
		value = map[string]any{}
	}

	return Snapshot{Heads: slices.Clone(d.Heads()), Value: value}, nil
}
