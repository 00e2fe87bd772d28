// Package firestore stores each value as a document holding its flat key and bytes.
package firestore

import (
	"context"
	"errors"
	"net/url"

	"cloud.google.com/go/firestore"
	"github.com/serroba/docsync/internal/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is used when no collection is given.
const DefaultCollection = "docsync"

type record struct {
	Key   string `firestore:"key"`
	Value []byte `firestore:"value"`
}

// Adapter is a Firestore implementation of storage.Adapter.
type Adapter struct {
	client     *firestore.Client
	collection string
}

// New wraps an existing client.
func New(client *firestore.Client, collection string) *Adapter {
	if collection == "" {
		collection = DefaultCollection
	}

	return &Adapter{client: client, collection: collection}
}

// Firestore document IDs cannot contain '/'.
func (a *Adapter) ref(flat string) *firestore.DocumentRef {
	return a.client.Collection(a.collection).Doc(url.PathEscape(flat))
}

// Load returns the value stored under key.
func (a *Adapter) Load(ctx context.Context, key storage.Key) ([]byte, error) {
	snap, err := a.ref(key.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, storage.ErrKeyNotFound
	}

	if err != nil {
		return nil, err
	}

	var r record
	if err := snap.DataTo(&r); err != nil {
		return nil, err
	}

	return r.Value, nil
}

// LoadRange queries the key field for the prefix interval.
func (a *Adapter) LoadRange(ctx context.Context, prefix storage.Key) ([]storage.Entry, error) {
	lo, hi := prefix.RangeBounds()

	iter := a.client.Collection(a.collection).
		Where("key", ">=", lo).
		Where("key", "<", hi).
		Documents(ctx)
	defer iter.Stop()

	var result []storage.Entry

	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}

		if err != nil {
			return nil, err
		}

		var r record
		if err := snap.DataTo(&r); err != nil {
			return nil, err
		}

		key, err := storage.ParseKey(r.Key)
		if err != nil {
			continue
		}

		result = append(result, storage.Entry{Key: key, Value: r.Value})
	}

	return result, nil
}

// Put stores value under key.
func (a *Adapter) Put(ctx context.Context, key storage.Key, value []byte) error {
	_, err := a.ref(key.String()).Set(ctx, record{Key: key.String(), Value: value})

	return err
}

// Delete removes key. Firestore deletes of missing documents succeed.
func (a *Adapter) Delete(ctx context.Context, key storage.Key) error {
	_, err := a.ref(key.String()).Delete(ctx)

	return err
}

var _ storage.Adapter = (*Adapter)(nil)
