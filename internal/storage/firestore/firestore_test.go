package firestore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/serroba/docsync/internal/storage"
	"github.com/serroba/docsync/internal/storage/firestore"
	"github.com/serroba/docsync/internal/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *gcfirestore.Client {
	t.Helper()

	projectID := os.Getenv("FIRESTORE_PROJECT")
	if projectID == "" {
		t.Skip("FIRESTORE_PROJECT not set, skipping Firestore tests")
	}

	client, err := gcfirestore.NewClient(context.Background(), projectID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestAdapter(t *testing.T) {
	client := testClient(t)

	storagetest.Run(t, func(t *testing.T) storage.Adapter {
		// A fresh collection per subtest keeps runs isolated.
		return firestore.New(client, fmt.Sprintf("docsync-test-%d", time.Now().UnixNano()))
	})
}
