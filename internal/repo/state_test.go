package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/serroba/docsync/internal/repo"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    repo.State
		expected string
	}{
		{repo.StateLoading, "loading"},
		{repo.StateReady, "ready"},
		{repo.StateUnavailable, "unavailable"},
		{repo.StateDeleted, "deleted"},
		{repo.State(99), "unknown"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, tt.state.String())
		}
	}
}

func TestState_CanTransition(t *testing.T) {
	t.Parallel()

	all := []repo.State{repo.StateLoading, repo.StateReady, repo.StateUnavailable, repo.StateDeleted}
	allowed := map[repo.State][]repo.State{
		repo.StateLoading:     {repo.StateReady, repo.StateUnavailable, repo.StateDeleted},
		repo.StateReady:       {repo.StateDeleted},
		repo.StateUnavailable: {repo.StateLoading, repo.StateReady, repo.StateDeleted},
	}

	for _, from := range all {
		for _, to := range all {
			expected := false

			for _, s := range allowed[from] {
				if s == to {
					expected = true
				}
			}

			if got := from.CanTransition(to); got != expected {
				t.Errorf("%s -> %s: expected %v, got %v", from, to, expected, got)
			}
		}
	}
}

func TestDocHandle_InvalidTransition(t *testing.T) {
	t.Parallel()

	r := newRepo(t, repo.Config{})

	h, err := r.Create(context.Background())
	require.NoError(t, err)

	err = h.Transition(repo.StateLoading)
	if !errors.Is(err, repo.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	require.Equal(t, repo.StateReady, h.State())

	require.NoError(t, h.Transition(repo.StateDeleted))
	require.ErrorIs(t, h.Transition(repo.StateReady), repo.ErrInvalidTransition)
}
