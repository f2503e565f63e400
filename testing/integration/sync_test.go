package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/statez"
)

// server is a fake remote holding a single JSON document.
type server struct {
	mu     sync.Mutex
	doc    []byte
	pushes [][]byte
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(s.doc)
	default:
		body, _ := io.ReadAll(r.Body)
		s.doc = body
		s.pushes = append(s.pushes, body)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) pushed() []appSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]appSettings, 0, len(s.pushes))
	for _, p := range s.pushes {
		var v appSettings
		_ = json.Unmarshal(p, &v)
		out = append(out, v)
	}
	return out
}

func TestSync_DebouncedEditsWithHistory(t *testing.T) {
	remote := &server{doc: []byte(`{"feature":"remote","limit":3}`)}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	scheduler := statez.NewManualScheduler()
	history := statez.History[appSettings](10)
	sync := statez.Sync[appSettings](srv.URL).Debounce(100 * time.Millisecond).SyncMode()
	store := statez.New[appSettings](appSettings{Feature: "local"},
		statez.Debounce[appSettings](50*time.Millisecond),
		statez.Validate[appSettings](),
		history,
		sync,
	).Scheduler(scheduler)
	start(t, store)
	ctx := context.Background()

	if store.Get().Feature != "remote" {
		t.Fatalf("expected seeded remote value, got %+v", store.Get())
	}
	if history.CanUndo() {
		t.Error("the seed read must not be recorded in history")
	}

	// A burst of edits collapses into one commit and one push.
	for i := 1; i <= 5; i++ {
		if err := store.Set(ctx, appSettings{Feature: "typed", Limit: i}); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	scheduler.Advance(50 * time.Millisecond)
	if got := store.Get().Limit; got != 5 {
		t.Fatalf("expected limit 5 after debounce, got %d", got)
	}
	scheduler.Advance(100 * time.Millisecond)

	if err := history.Undo(ctx); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	scheduler.Advance(100 * time.Millisecond)

	pushed := remote.pushed()
	if len(pushed) != 2 {
		t.Fatalf("expected 2 pushes, got %d: %+v", len(pushed), pushed)
	}
	if pushed[0].Limit != 5 || pushed[1].Feature != "remote" {
		t.Errorf("unexpected pushes: %+v", pushed)
	}
}

func TestSync_PullIsPersistedNotEchoed(t *testing.T) {
	remote := &server{doc: []byte(`{"feature":"first","limit":1}`)}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	storage := statez.NewMemoryStorage()
	sync := statez.Sync[appSettings](srv.URL).SyncMode()
	store := statez.New[appSettings](appSettings{Feature: "local"},
		statez.Persist[appSettings](storage, "app"),
		sync,
	)
	start(t, store)
	ctx := context.Background()

	remote.mu.Lock()
	remote.doc = []byte(`{"feature":"second","limit":2}`)
	remote.mu.Unlock()

	if err := sync.Pull(ctx); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if store.Get().Feature != "second" {
		t.Fatalf("expected pulled value, got %+v", store.Get())
	}
	data, ok, err := storage.Read(ctx, "app")
	if err != nil || !ok {
		t.Fatalf("expected pulled value in storage, got ok=%v err=%v", ok, err)
	}
	var stored appSettings
	if err := json.Unmarshal(data, &stored); err != nil || stored.Feature != "second" {
		t.Errorf("expected stored pulled value, got %s (%v)", data, err)
	}
	if len(remote.pushed()) != 0 {
		t.Error("remote values must not be echoed back")
	}
}
