package docid_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/serroba/docsync/internal/docid"
	"github.com/stretchr/testify/require"
)

func TestNew_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[docid.ID]struct{})

	for range 100 {
		id := docid.New()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}

		seen[id] = struct{}{}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()

	id := docid.New()

	parsed, err := docid.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	fromURL, err := docid.Parse(id.URL())
	require.NoError(t, err)
	require.Equal(t, id, fromURL)

	require.True(t, strings.HasPrefix(id.URL(), "automerge:"))
	require.NotContains(t, id.String(), "/")
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "automerge:", "not base64!", "c2hvcnQ"} {
		_, err := docid.Parse(s)
		if !errors.Is(err, docid.ErrInvalid) {
			t.Errorf("Parse(%q): expected ErrInvalid, got %v", s, err)
		}
	}
}
