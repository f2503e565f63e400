package statez

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/capitan"
)

// PersistPlugin loads the store value from a Storage at Start and writes
// every commit back to it.
type PersistPlugin[T any] struct {
	storage Storage
	key     string
	codec   Codec
	onError func(error)
	watch   bool

	mu     sync.Mutex
	last   []byte
	handle *Handle[T]
}

// Persist creates a plugin persisting the store value at key.
//
// A missing key keeps the initial value. Read, write and decode failures
// never reach the caller of Set; they are emitted as PersistFailed and
// passed to the OnError handler, and the in-memory value is kept.
func Persist[T any](storage Storage, key string) *PersistPlugin[T] {
	return &PersistPlugin[T]{
		storage: storage,
		key:     key,
		codec:   JSONCodec{},
	}
}

// Codec sets the codec for stored bytes. Default: JSONCodec.
func (p *PersistPlugin[T]) Codec(c Codec) *PersistPlugin[T] {
	p.codec = c
	return p
}

// OnError sets a handler for storage and decode failures.
func (p *PersistPlugin[T]) OnError(fn func(error)) *PersistPlugin[T] {
	p.onError = fn
	return p
}

// WatchExternal commits changes written to the key by other processes.
// The storage must implement WatchableStorage. External values run through
// the commit hooks with OriginStorage; history does not record them and
// they are not written back.
func (p *PersistPlugin[T]) WatchExternal() *PersistPlugin[T] {
	p.watch = true
	return p
}

// Name implements Plugin.
func (*PersistPlugin[T]) Name() string {
	return "persist"
}

// Initialize loads the stored value, falling back to value.
func (p *PersistPlugin[T]) Initialize(ctx context.Context, value T) (T, error) {
	data, ok, err := p.storage.Read(ctx, p.key)
	if err != nil {
		p.fail(ctx, fmt.Errorf("read %s: %w", p.key, err))
		return value, nil
	}
	if !ok {
		return value, nil
	}
	var v T
	if err := p.codec.Unmarshal(data, &v); err != nil {
		p.fail(ctx, fmt.Errorf("decode %s: %w", p.key, err))
		return value, nil
	}
	p.remember(data)
	capitan.Emit(ctx, PersistLoaded,
		KeyKey.Field(p.key),
	)
	return v, nil
}

// Setup installs the persistence capability and starts watching for
// external changes when configured.
func (p *PersistPlugin[T]) Setup(ctx context.Context, h *Handle[T]) error {
	p.handle = h
	if err := h.ProvidePersistence(p); err != nil {
		return err
	}
	if !p.watch {
		return nil
	}
	ws, ok := p.storage.(WatchableStorage)
	if !ok {
		return ErrWatchUnsupported
	}
	ch, err := ws.Watch(ctx, p.key)
	if err != nil {
		return fmt.Errorf("watch %s: %w", p.key, err)
	}
	go p.follow(ctx, ch)
	return nil
}

func (p *PersistPlugin[T]) follow(ctx context.Context, ch <-chan []byte) {
	for data := range ch {
		if p.echo(data) {
			continue
		}
		if err := p.commit(ctx, data); err != nil {
			p.fail(ctx, err)
		}
	}
}

// OnCommitted writes the committed value.
func (p *PersistPlugin[T]) OnCommitted(ctx context.Context, c Commit[T]) {
	if c.Origin == OriginStorage {
		return
	}
	if err := p.write(ctx, c.Next); err != nil {
		p.fail(ctx, err)
	}
}

// Flush writes the current store value.
func (p *PersistPlugin[T]) Flush(ctx context.Context) error {
	if p.handle == nil {
		return ErrNotStarted
	}
	return p.write(ctx, p.handle.Get())
}

// Clear removes the key from storage. The store value is unchanged.
func (p *PersistPlugin[T]) Clear(ctx context.Context) error {
	d, ok := p.storage.(Deleter)
	if !ok {
		return ErrDeleteUnsupported
	}
	if err := d.Delete(ctx, p.key); err != nil {
		return fmt.Errorf("delete %s: %w", p.key, err)
	}
	p.remember(nil)
	return nil
}

// Rehydrate reads the key again and commits its value with OriginStorage.
// A missing key is not an error.
func (p *PersistPlugin[T]) Rehydrate(ctx context.Context) error {
	if p.handle == nil {
		return ErrNotStarted
	}
	data, ok, err := p.storage.Read(ctx, p.key)
	if err != nil {
		return fmt.Errorf("read %s: %w", p.key, err)
	}
	if !ok {
		return nil
	}
	return p.commit(ctx, data)
}

func (p *PersistPlugin[T]) commit(ctx context.Context, data []byte) error {
	var v T
	if err := p.codec.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode %s: %w", p.key, err)
	}
	p.remember(data)
	if err := p.handle.Commit(ctx, Value(v), OriginStorage); err != nil {
		return err
	}
	capitan.Emit(ctx, PersistLoaded,
		KeyStore.Field(p.handle.store.name),
		KeyKey.Field(p.key),
	)
	return nil
}

func (p *PersistPlugin[T]) write(ctx context.Context, v T) error {
	data, err := encode(p.codec, v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.key, err)
	}
	// Remember before writing so a watcher never mistakes our own write
	// for an external change.
	p.remember(data)
	if err := p.storage.Write(ctx, p.key, data); err != nil {
		return fmt.Errorf("write %s: %w", p.key, err)
	}
	capitan.Emit(ctx, PersistWritten,
		KeyStore.Field(p.handle.store.name),
		KeyKey.Field(p.key),
	)
	return nil
}

func (p *PersistPlugin[T]) remember(data []byte) {
	p.mu.Lock()
	p.last = clone(data)
	p.mu.Unlock()
}

// echo reports whether data equals the last payload read or written.
func (p *PersistPlugin[T]) echo(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last != nil && bytes.Equal(p.last, data)
}

func (p *PersistPlugin[T]) fail(ctx context.Context, err error) {
	capitan.Emit(ctx, PersistFailed,
		KeyKey.Field(p.key),
		KeyError.Field(err.Error()),
	)
	if p.onError != nil {
		p.onError(err)
	}
}

var (
	_ Initializer[int] = (*PersistPlugin[int])(nil)
	_ Installer[int]   = (*PersistPlugin[int])(nil)
	_ Observer[int]    = (*PersistPlugin[int])(nil)
	_ PersistenceOps   = (*PersistPlugin[int])(nil)
)
