package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/serroba/docsync/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	t.Parallel()

	a := metrics.New(nil)
	b := metrics.New(nil)

	a.ChangesCommitted.Inc()

	if got := testutil.ToFloat64(b.ChangesCommitted); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestNew_UsesGivenRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.MessagesSent.WithLabelValues("announce").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	found := false

	for _, f := range families {
		if f.GetName() == "docsync_messages_sent_total" {
			found = true
		}
	}

	if !found {
		t.Error("expected docsync_messages_sent_total to be registered")
	}
}

func TestObserveStorage(t *testing.T) {
	t.Parallel()

	m := metrics.New(nil)

	m.ObserveStorage("put")(nil)
	m.ObserveStorage("put")(errors.New("disk full"))

	if got := testutil.ToFloat64(m.StorageErrors.WithLabelValues("put")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}

	if got := testutil.CollectAndCount(m.StorageDuration); got != 1 {
		t.Errorf("expected 1 histogram series, got %d", got)
	}
}

func TestTransition(t *testing.T) {
	t.Parallel()

	m := metrics.New(nil)

	m.Transition("", "loading")
	m.Transition("loading", "ready")
	m.Transition("", "loading")

	if got := testutil.ToFloat64(m.Handles.WithLabelValues("loading")); got != 1 {
		t.Errorf("expected 1 loading, got %v", got)
	}

	if got := testutil.ToFloat64(m.Handles.WithLabelValues("ready")); got != 1 {
		t.Errorf("expected 1 ready, got %v", got)
	}
}
