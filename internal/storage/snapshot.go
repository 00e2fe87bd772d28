package storage

import (
	"sync"
)

// SnapshotPolicy determines when to compact a document's incremental changes
// into a snapshot.
type SnapshotPolicy struct {
	mu                   sync.Mutex
	threshold            int            // Compact every N changes
	changesSinceSnapshot map[string]int // Changes per document since last compaction
}

// NewSnapshotPolicy creates a policy that triggers compaction every N changes.
// A threshold below one disables compaction.
func NewSnapshotPolicy(threshold int) *SnapshotPolicy {
	return &SnapshotPolicy{
		threshold:            threshold,
		changesSinceSnapshot: make(map[string]int),
	}
}

// RecordChanges records that n changes were saved incrementally.
// Returns true if the document should be compacted.
func (p *SnapshotPolicy) RecordChanges(docID string, n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.changesSinceSnapshot[docID] += n

	return p.threshold > 0 && p.changesSinceSnapshot[docID] >= p.threshold
}

// Reset resets the counter after a compaction.
func (p *SnapshotPolicy) Reset(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.changesSinceSnapshot[docID] = 0
}

// Forget drops all tracking for a document.
func (p *SnapshotPolicy) Forget(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.changesSinceSnapshot, docID)
}
