// Package consul provides a statez.Storage implementation for the Consul
// KV store, using blocking queries to follow external changes.
package consul

import (
	"context"
	"fmt"

	"github.com/hashicorp/consul/api"

	"github.com/zoobzio/statez"
)

// Storage stores values under Consul KV keys.
type Storage struct {
	client *api.Client
	prefix string
}

// Option configures a Storage.
type Option func(*Storage)

// WithPrefix prepends prefix to every key, for example "statez/".
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// New creates a Storage using the given client.
func New(client *api.Client, opts ...Option) *Storage {
	s := &Storage{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) key(key string) string {
	return s.prefix + key
}

// Read returns the value stored at key.
func (s *Storage) Read(ctx context.Context, key string) ([]byte, bool, error) {
	pair, _, err := s.client.KV().Get(s.key(key), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if pair == nil {
		return nil, false, nil
	}
	return pair.Value, true, nil
}

// Write stores data at key.
func (s *Storage) Write(ctx context.Context, key string, data []byte) error {
	pair := &api.KVPair{Key: s.key(key), Value: data}
	if _, err := s.client.KV().Put(pair, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.KV().Delete(s.key(key), (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch returns a channel that emits the key's value whenever its modify
// index advances. The current value is emitted immediately.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	kv := s.client.KV()
	full := s.key(key)

	pair, meta, err := kv.Get(full, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		lastIndex := meta.LastIndex

		if pair != nil {
			select {
			case out <- pair.Value:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts := (&api.QueryOptions{WaitIndex: lastIndex}).WithContext(ctx)
			pair, meta, err := kv.Get(full, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			// Index resets are possible after a Consul snapshot restore.
			if meta.LastIndex < lastIndex {
				lastIndex = 0
				continue
			}
			if meta.LastIndex == lastIndex {
				continue
			}
			lastIndex = meta.LastIndex
			if pair == nil {
				continue
			}

			select {
			case out <- pair.Value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

var (
	_ statez.WatchableStorage = (*Storage)(nil)
	_ statez.Deleter          = (*Storage)(nil)
)
