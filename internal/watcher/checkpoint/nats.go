package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"feedwatch/internal/watcher/events"
)

// jetStreamNew is a variable to allow mocking in tests.
var jetStreamNew = func(nc *nats.Conn) (jetstream.JetStream, error) {
	return jetstream.New(nc)
}

// NATSStore implements Store using a NATS JetStream key-value bucket.
// Useful when the watcher should not write its checkpoints back into the
// database it observes.
type NATSStore struct {
	kv  jetstream.KeyValue
	key string
}

// NATSStoreOptions configures the JetStream-backed checkpoint store.
type NATSStoreOptions struct {
	// Bucket is the KV bucket name. Created if it does not exist.
	Bucket string

	// WatcherID is the KV key, distinguishing independent watchers.
	WatcherID string
}

// NewNATSStore creates a JetStream KV-backed checkpoint store.
func NewNATSStore(ctx context.Context, nc *nats.Conn, opts NATSStoreOptions) (*NATSStore, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if opts.Bucket == "" {
		opts.Bucket = "feedwatch_checkpoints"
	}
	if opts.WatcherID == "" {
		return nil, fmt.Errorf("watcher ID is required")
	}

	js, err := jetStreamNew(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, opts.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  opts.Bucket,
			History: 1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open KV bucket %q: %w", opts.Bucket, err)
	}

	return &NATSStore{kv: kv, key: opts.WatcherID}, nil
}

// Save implements Store.
func (s *NATSStore) Save(ctx context.Context, token events.ResumeToken) error {
	if token == nil {
		return nil
	}
	if _, err := s.kv.Put(ctx, s.key, token); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *NATSStore) Load(ctx context.Context) (events.ResumeToken, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil // No checkpoint exists
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return events.ResumeToken(entry.Value()), nil
}

// Delete implements Store.
func (s *NATSStore) Delete(ctx context.Context) error {
	err := s.kv.Delete(ctx, s.key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
