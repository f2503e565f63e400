package statez

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

type syncSettings struct {
	Theme string `json:"theme"`
	Size  int    `json:"size"`
}

// remote is a fake settings endpoint.
type remote struct {
	mu      sync.Mutex
	value   []byte
	status  int
	pushes  [][]byte
	headers []http.Header
	gate    chan struct{}
}

func (r *remote) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodGet && r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.headers = append(r.headers, req.Header.Clone())
	if r.status != 0 {
		w.WriteHeader(r.status)
		return
	}
	switch req.Method {
	case http.MethodGet:
		_, _ = w.Write(r.value)
	default:
		body, _ := io.ReadAll(req.Body)
		r.pushes = append(r.pushes, body)
		r.value = body
		w.WriteHeader(http.StatusNoContent)
	}
}

func (r *remote) pushed() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.pushes...)
}

func newRemote(t *testing.T, value string) (*remote, *httptest.Server) {
	t.Helper()
	r := &remote{value: []byte(value)}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return r, srv
}

func TestSync_SeedsFromEndpoint(t *testing.T) {
	_, srv := newRemote(t, `{"theme":"dark","size":14}`)

	plugin := Sync[syncSettings](srv.URL).SyncMode()
	store := startStore(t, New[syncSettings](syncSettings{Theme: "light"}, plugin))

	if got := store.Get(); got.Theme != "dark" || got.Size != 14 {
		t.Errorf("expected remote value, got %+v", got)
	}
	select {
	case <-plugin.Ready():
	default:
		t.Error("expected Ready to be closed")
	}
	if store.Version() != 1 {
		t.Errorf("expected seeding to count as one replacement, got version %d", store.Version())
	}
}

func TestSync_SeedFailureKeepsInitial(t *testing.T) {
	r, srv := newRemote(t, "")
	r.status = http.StatusInternalServerError

	var reported error
	plugin := Sync[syncSettings](srv.URL).SyncMode().OnError(func(err error) { reported = err })
	store := startStore(t, New[syncSettings](syncSettings{Theme: "light"}, plugin))

	if store.Get().Theme != "light" {
		t.Errorf("expected initial value kept, got %+v", store.Get())
	}
	var syncErr *SyncError
	if !errors.As(reported, &syncErr) {
		t.Fatalf("expected SyncError, got %v", reported)
	}
	if syncErr.Op != "pull" || syncErr.Status != http.StatusInternalServerError {
		t.Errorf("unexpected error %+v", syncErr)
	}
	if !errors.Is(reported, ErrUnexpectedStatus) {
		t.Errorf("expected ErrUnexpectedStatus, got %v", reported)
	}
}

func TestSync_SeedDecodeFailureKeepsInitial(t *testing.T) {
	_, srv := newRemote(t, `not json`)

	var reported error
	plugin := Sync[syncSettings](srv.URL).SyncMode().OnError(func(err error) { reported = err })
	store := startStore(t, New[syncSettings](syncSettings{Theme: "light"}, plugin))

	if store.Get().Theme != "light" {
		t.Errorf("expected initial value kept, got %+v", store.Get())
	}
	var syncErr *SyncError
	if !errors.As(reported, &syncErr) || syncErr.Op != "decode" {
		t.Errorf("expected decode SyncError, got %v", reported)
	}
}

func TestSync_SeedDoesNotOverwriteLaterCommit(t *testing.T) {
	r, srv := newRemote(t, `{"theme":"remote"}`)
	r.gate = make(chan struct{})

	sched := NewManualScheduler()
	plugin := Sync[syncSettings](srv.URL)
	store := startStore(t, New[syncSettings](syncSettings{Theme: "initial"}, plugin).Scheduler(sched))

	if err := store.Set(context.Background(), syncSettings{Theme: "local"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	close(r.gate)

	select {
	case <-plugin.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("inbound read never finished")
	}
	if store.Get().Theme != "local" {
		t.Errorf("expected local commit to win, got %+v", store.Get())
	}
}

func TestSync_DebouncedPush(t *testing.T) {
	r, srv := newRemote(t, `{"theme":"light"}`)

	ctx := context.Background()
	sched := NewManualScheduler()
	plugin := Sync[syncSettings](srv.URL).
		SyncMode().
		Debounce(100*time.Millisecond).
		Header("Authorization", "Bearer token")
	store := startStore(t, New[syncSettings](syncSettings{}, plugin).Scheduler(sched))

	for i := 1; i <= 3; i++ {
		_ = store.Set(ctx, syncSettings{Theme: "dark", Size: i})
	}
	if len(r.pushed()) != 0 {
		t.Fatal("expected no write before the debounce window")
	}
	if !plugin.Pending() {
		t.Error("expected a pending write")
	}

	sched.Advance(100 * time.Millisecond)

	pushes := r.pushed()
	if len(pushes) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(pushes))
	}
	var sent syncSettings
	if err := json.Unmarshal(pushes[0], &sent); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if sent.Size != 3 {
		t.Errorf("expected latest value to be written, got %+v", sent)
	}

	r.mu.Lock()
	h := r.headers[len(r.headers)-1]
	r.mu.Unlock()
	if h.Get("Authorization") != "Bearer token" {
		t.Errorf("expected caller header, got %q", h.Get("Authorization"))
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type, got %q", h.Get("Content-Type"))
	}
	if h.Get("X-Request-ID") == "" {
		t.Error("expected a request id")
	}
}

func TestSync_PushFailureIsReported(t *testing.T) {
	r, srv := newRemote(t, `{}`)

	ctx := context.Background()
	sched := NewManualScheduler()
	var reported atomic.Value
	plugin := Sync[syncSettings](srv.URL).SyncMode().OnError(func(err error) { reported.Store(err) })
	store := startStore(t, New[syncSettings](syncSettings{}, plugin).Scheduler(sched))

	r.mu.Lock()
	r.status = http.StatusBadGateway
	r.mu.Unlock()

	if err := store.Set(ctx, syncSettings{Theme: "x"}); err != nil {
		t.Fatalf("Set must not fail on remote errors, got %v", err)
	}
	sched.Advance(DefaultSyncDebounce)

	err, _ := reported.Load().(error)
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Op != "push" || syncErr.Status != http.StatusBadGateway {
		t.Errorf("expected push SyncError with 502, got %v", err)
	}
	if store.Get().Theme != "x" {
		t.Errorf("expected local value kept, got %+v", store.Get())
	}
}

func TestSync_Retry(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	plugin := Sync[syncSettings](srv.URL).
		SyncMode().
		Method(http.MethodPut).
		Retry(3, time.Millisecond).
		Scheduler(NewClockScheduler(nil)).
		Debounce(time.Hour)
	store := startStore(t, New[syncSettings](syncSettings{}, plugin))

	_ = store.Set(ctx, syncSettings{Size: 1})
	if err := plugin.Flush(ctx); err != nil {
		t.Fatalf("Flush failed after retries: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestSync_RetryExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			attempts.Add(1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx := context.Background()
	plugin := Sync[syncSettings](srv.URL).
		Retry(2, time.Millisecond).
		Scheduler(NewClockScheduler(nil)).
		Debounce(time.Hour).
		OnError(func(error) {})
	store := startStore(t, New[syncSettings](syncSettings{}, plugin))

	_ = store.Set(ctx, syncSettings{Size: 1})
	err := plugin.Flush(ctx)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestSync_ResponsePath(t *testing.T) {
	_, srv := newRemote(t, `{"data":{"settings":{"theme":"nested","size":3}}}`)

	plugin := Sync[syncSettings](srv.URL).SyncMode().ResponsePath("data.settings")
	store := startStore(t, New[syncSettings](syncSettings{}, plugin))

	if got := store.Get(); got.Theme != "nested" || got.Size != 3 {
		t.Errorf("expected nested value, got %+v", got)
	}
}

func TestSync_MissingResponsePath(t *testing.T) {
	_, srv := newRemote(t, `{"data":{}}`)

	var reported error
	plugin := Sync[syncSettings](srv.URL).SyncMode().ResponsePath("data.settings").
		OnError(func(err error) { reported = err })
	startStore(t, New[syncSettings](syncSettings{}, plugin))

	if !errors.Is(reported, ErrResponsePath) {
		t.Errorf("expected ErrResponsePath, got %v", reported)
	}
}

func TestSync_RemoteCommitsAreNotPushedBack(t *testing.T) {
	r, srv := newRemote(t, `{"theme":"remote"}`)

	ctx := context.Background()
	sched := NewManualScheduler()
	plugin := Sync[syncSettings](srv.URL).SyncMode()
	store := startStore(t, New[syncSettings](syncSettings{}, plugin).Scheduler(sched))

	r.mu.Lock()
	r.value = []byte(`{"theme":"changed"}`)
	r.mu.Unlock()

	ops, ok := store.Remote()
	if !ok {
		t.Fatal("expected remote capability")
	}
	if err := ops.Pull(ctx); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if store.Get().Theme != "changed" {
		t.Errorf("expected pulled value, got %+v", store.Get())
	}

	sched.Advance(time.Hour)
	if len(r.pushed()) != 0 {
		t.Errorf("pulled values must not be written back, got %d writes", len(r.pushed()))
	}
}

func TestSync_CloseFlushesPendingWrite(t *testing.T) {
	r, srv := newRemote(t, `{}`)

	ctx := context.Background()
	sched := NewManualScheduler()
	plugin := Sync[syncSettings](srv.URL).SyncMode()
	store := New[syncSettings](syncSettings{}, plugin).Scheduler(sched)
	if err := store.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_ = store.Set(ctx, syncSettings{Theme: "final"})
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(r.pushed()) != 1 {
		t.Fatalf("expected the pending write on close, got %d", len(r.pushed()))
	}
}

func TestSync_CloseDeliversDebouncedValue(t *testing.T) {
	r, srv := newRemote(t, `{}`)

	ctx := context.Background()
	sched := NewManualScheduler()
	store := New[syncSettings](syncSettings{},
		Sync[syncSettings](srv.URL).SyncMode(),
		Debounce[syncSettings](time.Hour),
	).Scheduler(sched)
	if err := store.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_ = store.Set(ctx, syncSettings{Theme: "final"})
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	pushes := r.pushed()
	if len(pushes) != 1 {
		t.Fatalf("expected the flushed value to be written, got %d writes", len(pushes))
	}
	var sent syncSettings
	if err := json.Unmarshal(pushes[0], &sent); err != nil || sent.Theme != "final" {
		t.Errorf("expected final value, got %s (%v)", pushes[0], err)
	}
}

func TestSync_RetryWithManualScheduler(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			if gets.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"theme":"remote"}`))
			return
		}
		if posts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	sched := NewManualScheduler()
	plugin := Sync[syncSettings](srv.URL).SyncMode().Retry(3, time.Millisecond)

	store := New[syncSettings](syncSettings{}, plugin).Scheduler(sched)
	started := make(chan error, 1)
	go func() { started <- store.Start(ctx) }()
	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start blocked on a retried inbound read")
	}
	t.Cleanup(func() { _ = store.Close() })
	if store.Get().Theme != "remote" {
		t.Errorf("expected seeded value after retry, got %+v", store.Get())
	}

	_ = store.Set(ctx, syncSettings{Theme: "local"})
	advanced := make(chan struct{})
	go func() {
		sched.Advance(DefaultSyncDebounce)
		close(advanced)
	}()
	select {
	case <-advanced:
	case <-time.After(5 * time.Second):
		t.Fatal("Advance blocked on a retried outbound write")
	}
	if posts.Load() != 2 {
		t.Errorf("expected 2 write attempts, got %d", posts.Load())
	}
	if plugin.Pending() {
		t.Error("expected no pending write")
	}
}

func TestSync_PullCommitsWithRemoteOrigin(t *testing.T) {
	r, srv := newRemote(t, `{"theme":"first"}`)

	ctx := context.Background()
	errBlocked := errors.New("blocked")
	var origins []Origin
	plugin := Sync[syncSettings](srv.URL).SyncMode()
	store := startStore(t, New[syncSettings](syncSettings{},
		Effect[syncSettings]("guard", func(_ context.Context, c Commit[syncSettings]) error {
			if c.Next.Theme == "blocked" {
				return errBlocked
			}
			return nil
		}),
		Observe[syncSettings]("origins", func(_ context.Context, c Commit[syncSettings]) {
			origins = append(origins, c.Origin)
		}),
		plugin,
	).Scheduler(NewManualScheduler()))

	r.mu.Lock()
	r.value = []byte(`{"theme":"second"}`)
	r.mu.Unlock()
	if err := plugin.Pull(ctx); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if len(origins) != 1 || origins[0] != OriginRemote {
		t.Errorf("expected one remote commit, got %v", origins)
	}

	r.mu.Lock()
	r.value = []byte(`{"theme":"blocked"}`)
	r.mu.Unlock()
	err := plugin.Pull(ctx)
	if !errors.Is(err, errBlocked) {
		t.Fatalf("expected hook veto, got %v", err)
	}
	if store.Get().Theme != "second" {
		t.Errorf("expected vetoed pull to leave the value, got %+v", store.Get())
	}
}

func TestSync_PushDurationUsesStoreClock(t *testing.T) {
	clock := clockz.NewFakeClock()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		clock.Advance(5 * time.Second)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	durations := make(chan time.Duration, 1)
	capitan.Hook(SyncPushed, func(_ context.Context, e *capitan.Event) {
		if name, _ := KeyStore.From(e); name != "push-clock" {
			return
		}
		d, _ := KeyDuration.From(e)
		select {
		case durations <- d:
		default:
		}
	})

	ctx := context.Background()
	plugin := Sync[syncSettings](srv.URL).SyncMode()
	store := startStore(t, New[syncSettings](syncSettings{}, plugin).
		Name("push-clock").
		Clock(clock).
		Scheduler(NewManualScheduler()))

	_ = store.Set(ctx, syncSettings{Size: 1})
	if err := plugin.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	select {
	case d := <-durations:
		if d != 5*time.Second {
			t.Errorf("expected 5s measured on the store clock, got %v", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SyncPushed not emitted")
	}
}
