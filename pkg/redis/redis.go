// Package redis provides a statez.Storage implementation for Redis keys,
// with external change watching through keyspace notifications.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zoobzio/statez"
)

// Storage stores values as Redis strings. Watch requires Redis to have
// keyspace notifications enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
type Storage struct {
	client *redis.Client
	prefix string
	db     int
}

// Option configures a Storage.
type Option func(*Storage)

// WithPrefix prepends prefix to every key.
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// WithDB sets the database index used in keyspace notification channels.
// It must match the database the client is connected to. Defaults to 0.
func WithDB(db int) Option {
	return func(s *Storage) {
		s.db = db
	}
}

// New creates a Storage backed by client.
func New(client *redis.Client, opts ...Option) *Storage {
	s := &Storage{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) name(key string) string {
	return s.prefix + key
}

// Read returns the value stored at key.
func (s *Storage) Read(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.name(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Write stores data at key without expiry.
func (s *Storage) Write(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.name(key), data, 0).Err()
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.name(key)).Err()
}

// Watch returns a channel that emits the key's value whenever it is set.
// The current value is emitted immediately.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	name := s.name(key)
	channel := fmt.Sprintf("__keyspace@%d__:%s", s.db, name)
	pubsub := s.client.Subscribe(ctx, channel)

	// Verify subscription worked
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

		val, err := s.client.Get(ctx, name).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return
		}
		if err == nil {
			select {
			case out <- val:
			case <-ctx.Done():
				return
			}
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				// Only react to writes
				switch msg.Payload {
				case "set", "mset", "setex", "psetex", "setnx", "setrange", "append":
					val, err := s.client.Get(ctx, name).Bytes()
					if err != nil {
						continue
					}
					select {
					case out <- val:
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
