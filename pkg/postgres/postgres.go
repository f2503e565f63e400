// Package postgres provides a statez.Storage implementation for PostgreSQL,
// with external change watching through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoobzio/statez"
)

// Storage stores values as rows of a key/value table. Watch requires a
// trigger that sends the changed key on the notification channel;
// EnsureSchema creates both:
//
//	CREATE TABLE statez (key TEXT PRIMARY KEY, value BYTEA NOT NULL);
//
//	CREATE OR REPLACE FUNCTION statez_notify() RETURNS trigger AS $$
//	BEGIN
//	    PERFORM pg_notify('statez_changed', NEW.key);
//	    RETURN NEW;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER statez_notify_trigger
//	    AFTER INSERT OR UPDATE ON statez
//	    FOR EACH ROW EXECUTE FUNCTION statez_notify();
type Storage struct {
	pool    *pgxpool.Pool
	table   string
	channel string
}

// Option configures a Storage.
type Option func(*Storage)

// WithTable sets the table name. Defaults to "statez".
func WithTable(table string) Option {
	return func(s *Storage) {
		s.table = table
	}
}

// WithChannel sets the notification channel used by Watch.
// Defaults to "statez_changed".
func WithChannel(channel string) Option {
	return func(s *Storage) {
		s.channel = channel
	}
}

// New creates a Storage backed by pool.
func New(pool *pgxpool.Pool, opts ...Option) *Storage {
	s := &Storage{
		pool:    pool,
		table:   "statez",
		channel: "statez_changed",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the table and the notification trigger if they do
// not exist.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	table := pgx.Identifier{s.table}.Sanitize()
	fn := pgx.Identifier{s.table + "_notify"}.Sanitize()
	trigger := pgx.Identifier{s.table + "_notify_trigger"}.Sanitize()

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		);

		CREATE OR REPLACE FUNCTION %[2]s() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify(%[4]s, NEW.key);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS %[3]s ON %[1]s;
		CREATE TRIGGER %[3]s
			AFTER INSERT OR UPDATE ON %[1]s
			FOR EACH ROW EXECUTE FUNCTION %[2]s();
	`, table, fn, trigger, quoteLiteral(s.channel)))
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Read returns the value stored at key.
func (s *Storage) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", pgx.Identifier{s.table}.Sanitize())
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Write upserts data at key.
func (s *Storage) Write(ctx context.Context, key string, data []byte) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		pgx.Identifier{s.table}.Sanitize(),
	)
	_, err := s.pool.Exec(ctx, query, key, data)
	return err
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", pgx.Identifier{s.table}.Sanitize())
	_, err := s.pool.Exec(ctx, query, key)
	return err
}

// Watch listens for notifications and returns a channel that emits the
// row's value whenever it changes. The current value is emitted
// immediately.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", s.channel, err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer conn.Release()

		value, ok, err := s.Read(ctx, key)
		if err == nil && ok {
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if notification.Payload != key {
				continue
			}

			value, ok, err := s.Read(ctx, key)
			if err != nil || !ok {
				continue
			}

			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func quoteLiteral(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}

var (
	_ statez.WatchableStorage = (*Storage)(nil)
	_ statez.Deleter          = (*Storage)(nil)
)
