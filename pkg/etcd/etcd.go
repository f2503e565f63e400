// Package etcd provides a statez.Storage implementation backed by etcd,
// using the native Watch API for external changes.
package etcd

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/zoobzio/statez"
)

// Storage stores values under etcd keys.
type Storage struct {
	client *clientv3.Client
	prefix string
}

// Option configures a Storage.
type Option func(*Storage)

// WithPrefix prepends prefix to every key, for example "/statez/".
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// New creates a Storage using the given client.
func New(client *clientv3.Client, opts ...Option) *Storage {
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
	resp, err := s.client.Get(ctx, s.key(key))
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// Write stores data at key.
func (s *Storage) Write(ctx context.Context, key string, data []byte) error {
	if _, err := s.client.Put(ctx, s.key(key), string(data)); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, s.key(key)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch returns a channel that emits the key's value on every put. The
// current value is emitted immediately and the watch resumes from the
// revision it was read at, so no write in between is lost.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	full := s.key(key)
	resp, err := s.client.Get(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		if len(resp.Kvs) > 0 {
			select {
			case out <- resp.Kvs[0].Value:
			case <-ctx.Done():
				return
			}
		}

		watchChan := s.client.Watch(ctx, full, clientv3.WithRev(resp.Header.Revision+1))

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}

				for _, event := range watchResp.Events {
					if event.Type != clientv3.EventTypePut {
						continue
					}
					select {
					case out <- event.Kv.Value:
					case <-ctx.Done():
						return
					}
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
