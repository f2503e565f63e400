package statez

import (
	"context"
	"sync"
)

// Watch returns a channel that receives the committed value after every
// commit. The channel holds only the latest value: a slow reader skips
// intermediate values rather than blocking the commit path. The channel is
// closed when ctx is canceled or the store is closed.
func (s *Store[T]) Watch(ctx context.Context) <-chan T {
	out := make(chan T, 1)

	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := s.Subscribe(func(_ context.Context, _, curr T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case <-out:
		default:
		}
		out <- curr
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		unsubscribe()

		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out
}
