package statez

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStorage_ReadWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	if _, ok, err := s.Read(ctx, "missing"); ok || err != nil {
		t.Errorf("expected missing key, got ok=%v err=%v", ok, err)
	}

	data := []byte(`{"a":1}`)
	if err := s.Write(ctx, "k", data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data[0] = 'X'

	got, ok, err := s.Read(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Read failed: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("expected stored copy to be isolated, got %s", got)
	}

	if keys := s.Keys(); len(keys) != 1 || keys[0] != "k" {
		t.Errorf("expected [k], got %v", keys)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Read(ctx, "k"); ok {
		t.Error("expected key deleted")
	}
}

func TestMemoryStorage_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStorage()
	_ = s.Write(ctx, "k", []byte("1"))

	ch, err := s.Watch(ctx, "k")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if got := receive(t, ch); string(got) != "1" {
		t.Errorf("expected current value first, got %s", got)
	}

	_ = s.Write(ctx, "other", []byte("x"))
	_ = s.Write(ctx, "k", []byte("2"))
	_ = s.Write(ctx, "k", []byte("3"))

	if got := receive(t, ch); string(got) != "3" {
		t.Errorf("expected latest value 3, got %s", got)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
		return nil
	}
}
