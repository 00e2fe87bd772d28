package repo

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/oklog/ulid/v2"
	"github.com/serroba/docsync/internal/metrics"
	"github.com/serroba/docsync/internal/share"
	"github.com/serroba/docsync/internal/storage"
)

// Defaults for zero Config fields.
const (
	DefaultSnapshotThreshold = 64
	DefaultRequestTimeout    = 5 * time.Second
	DefaultSyncInterval      = 10 * time.Second
	DefaultSendQueueSize     = 256
	DefaultInboxSize         = 64
	DefaultMaxPending        = 10000
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultFindRetries       = 3
)

// Config holds configuration for creating a repo. Zero fields take defaults.
type Config struct {
	// PeerID identifies this repo to peers. Defaults to a new ULID.
	PeerID string

	// Storage persists documents. Defaults to an in-memory adapter.
	Storage storage.Adapter

	// SnapshotThreshold compacts a document after this many incremental
	// changes. Negative disables compaction.
	SnapshotThreshold int

	// SharePolicy decides which documents are announced to which peers.
	SharePolicy share.Policy

	// AcceptUnknown stores any document a peer offers, as a relay server does.
	AcceptUnknown bool

	// RequestTimeout bounds each round of asking peers for a document.
	RequestTimeout time.Duration

	// RetryPolicy paces find rounds. Stop marks the document unavailable.
	RetryPolicy func() backoff.BackOff

	// SyncInterval is the period of the maintenance pass that retries unsaved
	// changes and restarts stalled exchanges.
	SyncInterval time.Duration

	SendQueueSize    int
	InboxSize        int
	MaxPending       int
	HandshakeTimeout time.Duration

	Metrics *metrics.Metrics
}

// DefaultRetryPolicy backs off exponentially and gives up after DefaultFindRetries rounds.
func DefaultRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond

	return backoff.WithMaxRetries(b, DefaultFindRetries)
}

func (c Config) withDefaults() Config {
	if c.PeerID == "" {
		c.PeerID = ulid.Make().String()
	}

	if c.Storage == nil {
		c.Storage = storage.NewMemoryAdapter()
	}

	if c.SnapshotThreshold == 0 {
		c.SnapshotThreshold = DefaultSnapshotThreshold
	}

	if c.SharePolicy == nil {
		c.SharePolicy = share.AllowAll
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}

	if c.RetryPolicy == nil {
		c.RetryPolicy = DefaultRetryPolicy
	}

	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}

	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}

	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}

	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}

	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if c.Metrics == nil {
		c.Metrics = metrics.New(nil)
	}

	return c
}
