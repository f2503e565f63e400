package testing

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/zoobzio/statez"
)

// StorageSuite runs the behavior every statez.Storage must provide against
// storages created by factory. Each subtest gets a fresh storage and uses
// its own key. Deleter and WatchableStorage checks run only when the
// storage implements them.
func StorageSuite(t *testing.T, factory func(t *testing.T) statez.Storage) {
	t.Helper()

	t.Run("ReadMissing", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		data, ok, err := s.Read(ctx, "statez-missing")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if ok || data != nil {
			t.Errorf("expected missing key, got %q", data)
		}
	})

	t.Run("WriteRead", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		want := []byte(`{"theme":"dark","size":12}`)
		if err := s.Write(ctx, "statez-write", want); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got, ok, err := s.Read(ctx, "statez-write")
		if err != nil || !ok {
			t.Fatalf("Read() ok=%v error=%v", ok, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		_ = s.Write(ctx, "statez-overwrite", []byte("1"))
		if err := s.Write(ctx, "statez-overwrite", []byte("2")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got, _, _ := s.Read(ctx, "statez-overwrite")
		if string(got) != "2" {
			t.Errorf("expected 2, got %q", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := factory(t)
		d, ok := s.(statez.Deleter)
		if !ok {
			t.Skip("storage does not implement Deleter")
		}
		ctx := context.Background()
		_ = s.Write(ctx, "statez-delete", []byte("x"))
		if err := d.Delete(ctx, "statez-delete"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, ok, _ := s.Read(ctx, "statez-delete"); ok {
			t.Error("expected key to be deleted")
		}
		if err := d.Delete(ctx, "statez-delete"); err != nil {
			t.Errorf("deleting a missing key should succeed, got %v", err)
		}
	})

	t.Run("Watch", func(t *testing.T) {
		s := factory(t)
		w, ok := s.(statez.WatchableStorage)
		if !ok {
			t.Skip("storage does not implement WatchableStorage")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_ = s.Write(ctx, "statez-watch", []byte("initial"))
		ch, err := w.Watch(ctx, "statez-watch")
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
		if got := receive(t, ch); string(got) != "initial" {
			t.Errorf("expected initial value, got %q", got)
		}

		if err := s.Write(ctx, "statez-watch", []byte("updated")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if !WaitForBytes(t, ch, []byte("updated"), 10*time.Second) {
			t.Error("expected update to be delivered")
		}

		cancel()
		deadline := time.After(10 * time.Second)
		for {
			select {
			case _, open := <-ch:
				if !open {
					return
				}
			case <-deadline:
				t.Fatal("channel not closed after cancel")
			}
		}
	})
}

// WaitForBytes reads from ch until it receives want or timeout occurs.
func WaitForBytes(t *testing.T, ch <-chan []byte, want []byte, timeout time.Duration) bool {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case got, ok := <-ch:
			if !ok {
				return false
			}
			if bytes.Equal(got, want) {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for value")
		return nil
	}
}
