package statez

import (
	"context"
	"sync"
)

// Storage is the narrow key-value contract the persist plugin requires.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Read returns the bytes stored at key. It returns nil, false, nil when
	// the key does not exist.
	Read(ctx context.Context, key string) ([]byte, bool, error)

	// Write stores data at key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error
}

// Deleter is implemented by storage that can remove a key.
type Deleter interface {
	// Delete removes key. No error if the key doesn't exist.
	Delete(ctx context.Context, key string) error
}

// WatchableStorage is implemented by storage that can report changes made
// by other processes.
type WatchableStorage interface {
	Storage

	// Watch returns a channel that receives the bytes stored at key each
	// time they change. The current value, if any, is sent first. The
	// channel is closed when ctx is canceled.
	Watch(ctx context.Context, key string) (<-chan []byte, error)
}

// MemoryStorage provides thread-safe in-memory storage. It is useful for
// tests and for sharing state between stores in one process.
type MemoryStorage struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[string][]*memoryWatcher
}

type memoryWatcher struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

// send delivers data, replacing any value the receiver hasn't taken yet.
func (w *memoryWatcher) send(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case <-w.ch:
	default:
	}
	w.ch <- data
}

func (w *memoryWatcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data:     make(map[string][]byte),
		watchers: make(map[string][]*memoryWatcher),
	}
}

// Read retrieves the bytes stored at key.
func (m *MemoryStorage) Read(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

// Write stores data at key and notifies watchers of that key.
func (m *MemoryStorage) Write(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = clone(data)
	for _, w := range m.watchers[key] {
		w.send(clone(data))
	}
	return nil
}

// Delete removes a key.
func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys returns all keys.
func (m *MemoryStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

// Watch reports writes to key until ctx is canceled.
func (m *MemoryStorage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	w := &memoryWatcher{ch: make(chan []byte, 1)}

	m.mu.Lock()
	if v, ok := m.data[key]; ok {
		w.ch <- clone(v)
	}
	m.watchers[key] = append(m.watchers[key], w)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		ws := m.watchers[key]
		for i, other := range ws {
			if other == w {
				m.watchers[key] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		w.close()
	}()

	return w.ch, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var (
	_ WatchableStorage = (*MemoryStorage)(nil)
	_ Deleter          = (*MemoryStorage)(nil)
)
