// Package nats provides a statez.Storage implementation for NATS
// JetStream key-value buckets, using the native Watch API for external
// changes.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/zoobzio/statez"
)

// Storage stores values as entries in a NATS KV bucket.
type Storage struct {
	kv     jetstream.KeyValue
	prefix string
}

// Option configures a Storage.
type Option func(*Storage)

// WithPrefix prepends prefix to every key, for example "app.".
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// New creates a Storage over the given bucket.
func New(kv jetstream.KeyValue, opts ...Option) *Storage {
	s := &Storage{kv: kv}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) key(key string) string {
	return s.prefix + key
}

// Read returns the latest value of key. Deleted and purged keys are missing.
func (s *Storage) Read(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, s.key(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Write stores data as the latest revision of key.
func (s *Storage) Write(ctx context.Context, key string, data []byte) error {
	if _, err := s.kv.Put(ctx, s.key(key), data); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete places a delete marker on key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, s.key(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch returns a channel that emits the key's value whenever it changes.
// The current value is emitted immediately.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	watcher, err := s.kv.Watch(ctx, s.key(key))
	if err != nil {
		return nil, fmt.Errorf("failed to watch key: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil entry signals end of initial values
				if entry == nil {
					continue
				}
				if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
					continue
				}

				select {
				case out <- entry.Value():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

var (
	_ statez.WatchableStorage = (*Storage)(nil)
	_ statez.Deleter          = (*Storage)(nil)
)
