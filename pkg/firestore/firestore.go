// Package firestore provides a statez.Storage implementation for Firestore
// documents using realtime listeners.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zoobzio/statez"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "statez"

// DefaultField is the document field holding the stored bytes.
const DefaultField = "value"

// Storage stores each key as a document in one collection.
type Storage struct {
	client     *firestore.Client
	collection string
	field      string
}

// Option configures a Storage.
type Option func(*Storage)

// WithCollection sets the collection holding the documents.
func WithCollection(collection string) Option {
	return func(s *Storage) {
		s.collection = collection
	}
}

// WithField sets the document field holding the value.
func WithField(field string) Option {
	return func(s *Storage) {
		s.field = field
	}
}

// New creates a Storage using the given client.
func New(client *firestore.Client, opts ...Option) *Storage {
	s := &Storage{
		client:     client,
		collection: DefaultCollection,
		field:      DefaultField,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key)
}

// value extracts the stored bytes from a snapshot. Strings are accepted so
// documents edited in the console remain readable.
func (s *Storage) value(snap *firestore.DocumentSnapshot) ([]byte, bool) {
	if snap == nil || !snap.Exists() {
		return nil, false
	}
	switch v := snap.Data()[s.field].(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

// Read returns the value stored at key.
func (s *Storage) Read(ctx context.Context, key string) ([]byte, bool, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	data, ok := s.value(snap)
	return data, ok, nil
}

// Write stores data at key, replacing the document.
func (s *Storage) Write(ctx context.Context, key string, data []byte) error {
	if _, err := s.doc(key).Set(ctx, map[string]any{s.field: data}); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes the document for key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch returns a channel that emits the document's value whenever it
// changes. The current value, if any, is emitted first. Deletions are
// skipped.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	snapshots := s.doc(key).Snapshots(ctx)

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer snapshots.Stop()

		for {
			snap, err := snapshots.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return
				}
				continue
			}

			data, ok := s.value(snap)
			if !ok {
				continue
			}

			select {
			case out <- data:
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
