// Package redis stores values as plain Redis strings under a namespace.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/serroba/docsync/internal/storage"
)

// DefaultNamespace is used when Config.Namespace is empty.
const DefaultNamespace = "docsync"

const scanBatch = 256

// Config holds connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Adapter is a Redis implementation of storage.Adapter.
type Adapter struct {
	client    *goredis.Client
	namespace string
}

// Open connects and verifies the server is reachable.
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	return New(client, cfg.Namespace), nil
}

// New wraps an existing client.
func New(client *goredis.Client, namespace string) *Adapter {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &Adapter{client: client, namespace: namespace}
}

// Close closes the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) redisKey(flat string) string {
	return a.namespace + ":" + flat
}

// Load returns the value stored under key.
func (a *Adapter) Load(ctx context.Context, key storage.Key) ([]byte, error) {
	value, err := a.client.Get(ctx, a.redisKey(key.String())).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrKeyNotFound
	}

	return value, err
}

// LoadRange scans for keys under prefix. Keys deleted during the scan are skipped.
func (a *Adapter) LoadRange(ctx context.Context, prefix storage.Key) ([]storage.Entry, error) {
	lo, _ := prefix.RangeBounds()
	nsPrefix := a.redisKey("")

	var result []storage.Entry

	iter := a.client.Scan(ctx, 0, escapeGlob(a.redisKey(lo))+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		rk := iter.Val()

		value, err := a.client.Get(ctx, rk).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}

		if err != nil {
			return nil, err
		}

		key, err := storage.ParseKey(strings.TrimPrefix(rk, nsPrefix))
		if err != nil {
			continue
		}

		result = append(result, storage.Entry{Key: key, Value: value})
	}

	if err := iter.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Put stores value under key.
func (a *Adapter) Put(ctx context.Context, key storage.Key, value []byte) error {
	return a.client.Set(ctx, a.redisKey(key.String()), value, 0).Err()
}

// Delete removes key.
func (a *Adapter) Delete(ctx context.Context, key storage.Key) error {
	return a.client.Del(ctx, a.redisKey(key.String())).Err()
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}

var _ storage.Adapter = (*Adapter)(nil)
