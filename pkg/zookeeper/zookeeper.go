// Package zookeeper provides a statez.Storage implementation that keeps
// each key in a ZooKeeper znode and follows changes with data watches.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-zookeeper/zk"

	"github.com/zoobzio/statez"
)

// DefaultRoot is the parent znode used when no root is configured.
const DefaultRoot = "/statez"

// Storage stores values as znodes under a root path.
type Storage struct {
	conn *zk.Conn
	root string
	acl  []zk.ACL
}

// Option configures a Storage.
type Option func(*Storage)

// WithRoot sets the parent znode. Missing ancestors are created on write.
func WithRoot(root string) Option {
	return func(s *Storage) {
		s.root = root
	}
}

// WithACL sets the ACL applied to created znodes. Defaults to world:anyone.
func WithACL(acl []zk.ACL) Option {
	return func(s *Storage) {
		s.acl = acl
	}
}

// New creates a Storage using the given connection.
func New(conn *zk.Conn, opts ...Option) *Storage {
	s := &Storage{
		conn: conn,
		root: DefaultRoot,
		acl:  zk.WorldACL(zk.PermAll),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the znode path used for key.
func (s *Storage) Path(key string) string {
	return path.Join("/", s.root, key)
}

// Read returns the data of the key's znode.
func (s *Storage) Read(_ context.Context, key string) ([]byte, bool, error) {
	data, _, err := s.conn.Get(s.Path(key))
	if errors.Is(err, zk.ErrNoNode) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, true, nil
}

// Write sets the data of the key's znode, creating it and its ancestors
// when missing.
func (s *Storage) Write(_ context.Context, key string, data []byte) error {
	p := s.Path(key)
	for {
		_, err := s.conn.Set(p, data, -1)
		if err == nil {
			return nil
		}
		if !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}

		if err := s.ensure(path.Dir(p)); err != nil {
			return err
		}
		_, err = s.conn.Create(p, data, 0, s.acl)
		if err == nil {
			return nil
		}
		// Lost a race with another creator; set again.
		if !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create %s: %w", key, err)
		}
	}
}

// Delete removes the key's znode.
func (s *Storage) Delete(_ context.Context, key string) error {
	if err := s.conn.Delete(s.Path(key), -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Storage) ensure(dir string) error {
	if dir == "/" {
		return nil
	}
	current := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		current += "/" + part
		_, err := s.conn.Create(current, nil, 0, s.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create %s: %w", current, err)
		}
	}
	return nil
}

// Watch returns a channel that emits the znode's data whenever it changes.
// The current data is emitted immediately. If the znode does not exist,
// the watch waits for it to be created.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	p := s.Path(key)
	out := make(chan []byte)

	go func() {
		defer close(out)

		for {
			data, _, eventCh, err := s.conn.GetW(p)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				exists, _, existsCh, err := s.conn.ExistsW(p)
				if err != nil {
					return
				}
				if !exists {
					select {
					case <-ctx.Done():
						return
					case <-existsCh:
					}
				}
				continue
			}

			select {
			case out <- data:
			case <-ctx.Done():
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-eventCh:
			}
		}
	}()

	return out, nil
}

var (
	_ statez.WatchableStorage = (*Storage)(nil)
	_ statez.Deleter          = (*Storage)(nil)
)
