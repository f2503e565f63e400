package statez

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// DefaultSyncDebounce is the default quiet period before an outbound write.
const DefaultSyncDebounce = 100 * time.Millisecond

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// SyncPlugin reconciles the store with a remote HTTP endpoint: one inbound
// read seeds the store at Setup, and every commit schedules a debounced
// outbound write of the latest value.
//
// The local value is the source of truth. Network and serialization
// failures never reach the caller of Set; they are emitted as SyncFailed
// and passed to the OnError handler.
type SyncPlugin[T any] struct {
	endpoint     string
	client       *http.Client
	method       string
	headers      http.Header
	debounce     time.Duration
	codec        Codec
	onError      func(error)
	responsePath string
	attempts     int
	baseDelay    time.Duration
	scheduler    Scheduler
	syncMode     bool
	transport    pipz.Chainable[*exchange]

	mu         sync.Mutex
	pending    T
	hasPending bool
	timer      CancelHandle
	gen        uint64
	closed     bool
	handle     *Handle[T]

	ready     chan struct{}
	readyOnce sync.Once
}

// Sync creates a plugin synchronizing with endpoint.
//
// Example:
//
//	sync := statez.Sync[Settings]("https://api.example.com/settings").
//	    Header("Authorization", "Bearer "+token).
//	    Debounce(500 * time.Millisecond).
//	    Retry(3, 100*time.Millisecond)
func Sync[T any](endpoint string) *SyncPlugin[T] {
	return &SyncPlugin[T]{
		endpoint: endpoint,
		client:   http.DefaultClient,
		method:   http.MethodPost,
		headers:  make(http.Header),
		debounce: DefaultSyncDebounce,
		codec:    JSONCodec{},
		ready:    make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------
// Chainable Configuration
// -----------------------------------------------------------------------------

// Client sets the HTTP client. Default: http.DefaultClient.
func (p *SyncPlugin[T]) Client(c *http.Client) *SyncPlugin[T] {
	p.client = c
	return p
}

// Method sets the HTTP method used for outbound writes. Default: POST.
func (p *SyncPlugin[T]) Method(method string) *SyncPlugin[T] {
	p.method = method
	return p
}

// Header adds a header sent with every request.
func (p *SyncPlugin[T]) Header(key, value string) *SyncPlugin[T] {
	p.headers.Add(key, value)
	return p
}

// Debounce sets the quiet period before an outbound write.
// Default: DefaultSyncDebounce.
func (p *SyncPlugin[T]) Debounce(d time.Duration) *SyncPlugin[T] {
	p.debounce = d
	return p
}

// Codec sets the codec for request and response bodies. Default: JSONCodec.
func (p *SyncPlugin[T]) Codec(c Codec) *SyncPlugin[T] {
	p.codec = c
	return p
}

// OnError sets a handler for pull and push failures. It runs in addition
// to the SyncFailed signal.
func (p *SyncPlugin[T]) OnError(fn func(error)) *SyncPlugin[T] {
	p.onError = fn
	return p
}

// ResponsePath selects the value inside a JSON response envelope using a
// gjson path, for example "data.settings".
func (p *SyncPlugin[T]) ResponsePath(path string) *SyncPlugin[T] {
	p.responsePath = path
	return p
}

// Retry retries failed requests up to attempts times in total, waiting
// baseDelay, 2*baseDelay, 4*baseDelay... between them. Backoff waits run on
// the calling goroutine and never go through the scheduler. A pending
// outbound write stops retrying once a newer value has been scheduled.
func (p *SyncPlugin[T]) Retry(attempts int, baseDelay time.Duration) *SyncPlugin[T] {
	p.attempts = attempts
	p.baseDelay = baseDelay
	return p
}

// Scheduler sets the scheduler for the outbound debounce delay.
// Default: the store scheduler.
func (p *SyncPlugin[T]) Scheduler(s Scheduler) *SyncPlugin[T] {
	p.scheduler = s
	return p
}

// SyncMode makes the inbound read at Setup synchronous, so Start returns
// with the remote value already applied. Useful for testing.
func (p *SyncPlugin[T]) SyncMode() *SyncPlugin[T] {
	p.syncMode = true
	return p
}

// -----------------------------------------------------------------------------
// Plugin
// -----------------------------------------------------------------------------

// Name implements Plugin.
func (*SyncPlugin[T]) Name() string {
	return "sync"
}

// Setup installs the remote capability and issues the inbound read. The
// fetched value is only applied if no commit happened while it was in
// flight.
func (p *SyncPlugin[T]) Setup(ctx context.Context, h *Handle[T]) error {
	p.handle = h
	if p.scheduler == nil {
		p.scheduler = h.Scheduler()
	}
	p.transport = p.newTransport()
	if err := h.ProvideRemote(p); err != nil {
		return err
	}

	version := h.Version()
	seed := func() {
		defer p.markReady()
		v, err := p.fetch(ctx)
		if err != nil {
			p.fail(ctx, err)
			return
		}
		applied, err := h.ReplaceIf(ctx, version, v)
		if err != nil {
			p.fail(ctx, err)
			return
		}
		if applied {
			p.emitPulled(ctx)
		}
	}

	if p.syncMode {
		seed()
	} else {
		go seed()
	}
	return nil
}

// OnCommitted schedules an outbound write of the committed value.
func (p *SyncPlugin[T]) OnCommitted(_ context.Context, c Commit[T]) {
	if c.Origin == OriginRemote {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = c.Next
	p.hasPending = true
	if p.timer != nil {
		p.timer.Cancel()
	}
	p.gen++
	gen := p.gen
	p.timer = p.scheduler.Schedule(p.debounce, func() { p.fire(gen) })
}

func (p *SyncPlugin[T]) fire(gen uint64) {
	v, ok := p.take(gen)
	if !ok {
		return
	}
	ctx := p.handle.Context()
	if err := p.push(ctx, v, gen); err != nil {
		p.fail(ctx, err)
	}
}

// take removes the pending value. A gen of 0 takes it unconditionally.
func (p *SyncPlugin[T]) take(gen uint64) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	if !p.hasPending || (gen != 0 && gen != p.gen) {
		return zero, false
	}
	v := p.pending
	p.pending = zero
	p.hasPending = false
	if p.timer != nil {
		p.timer.Cancel()
		p.timer = nil
	}
	return v, true
}

// superseded reports whether a write newer than gen has been scheduled.
func (p *SyncPlugin[T]) superseded(gen uint64) bool {
	if gen == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen != gen
}

// -----------------------------------------------------------------------------
// RemoteOps
// -----------------------------------------------------------------------------

// Pull fetches the remote value and commits it with OriginRemote,
// regardless of commits made since Setup. Commit hooks may still veto it;
// history does not record it and it is not written back.
func (p *SyncPlugin[T]) Pull(ctx context.Context) error {
	if p.handle == nil {
		return ErrNotStarted
	}
	v, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	if err := p.handle.Commit(ctx, Value(v), OriginRemote); err != nil {
		return err
	}
	p.emitPulled(ctx)
	return nil
}

// Flush sends the pending outbound write now, if any.
func (p *SyncPlugin[T]) Flush(ctx context.Context) error {
	v, ok := p.take(0)
	if !ok {
		return nil
	}
	return p.push(ctx, v, 0)
}

// Ready is closed once the inbound read at Setup has finished, whether or
// not it succeeded.
func (p *SyncPlugin[T]) Ready() <-chan struct{} {
	return p.ready
}

// Pending reports whether an outbound write is scheduled.
func (p *SyncPlugin[T]) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasPending
}

// Close sends any pending outbound write and stops scheduling new ones.
func (p *SyncPlugin[T]) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if p.handle == nil {
		return nil
	}
	return p.Flush(p.handle.Context())
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

func (p *SyncPlugin[T]) fetch(ctx context.Context) (T, error) {
	var v T
	x, err := p.roundTrip(ctx, "pull", http.MethodGet, nil, 0)
	if err != nil {
		return v, err
	}
	body := x.resp
	if p.responsePath != "" {
		res := gjson.GetBytes(body, p.responsePath)
		if !res.Exists() {
			return v, &SyncError{Op: "decode", Endpoint: p.endpoint, Err: fmt.Errorf("%w: %s", ErrResponsePath, p.responsePath)}
		}
		body = []byte(res.Raw)
	}
	if err := p.codec.Unmarshal(body, &v); err != nil {
		return v, &SyncError{Op: "decode", Endpoint: p.endpoint, Err: err}
	}
	return v, nil
}

func (p *SyncPlugin[T]) push(ctx context.Context, v T, gen uint64) error {
	body, err := encode(p.codec, v)
	if err != nil {
		return &SyncError{Op: "encode", Endpoint: p.endpoint, Err: err}
	}
	clock := p.handle.store.clock
	start := clock.Now()
	x, err := p.roundTrip(ctx, "push", p.method, body, gen)
	if err != nil || x.skipped {
		return err
	}
	capitan.Emit(ctx, SyncPushed,
		KeyStore.Field(p.handle.store.name),
		KeyEndpoint.Field(p.endpoint),
		KeyDuration.Field(clock.Since(start)),
	)
	return nil
}

// exchange is one logical request flowing through the transport.
type exchange struct {
	op      string
	method  string
	body    []byte
	gen     uint64
	resp    []byte
	skipped bool
}

var (
	syncSendID  = pipz.NewIdentity("sync.send", "Send one request to the remote endpoint")
	syncRetryID = pipz.NewIdentity("sync.retry", "Retry failed requests with exponential backoff")
)

// newTransport builds the request pipeline: a single send, wrapped in a
// backoff when Retry is configured.
func (p *SyncPlugin[T]) newTransport() pipz.Chainable[*exchange] {
	send := pipz.Apply(syncSendID, func(ctx context.Context, x *exchange) (*exchange, error) {
		if p.superseded(x.gen) {
			x.skipped = true
			return x, nil
		}
		out, err := p.do(ctx, x.op, x.method, x.body)
		if err != nil {
			return x, err
		}
		x.resp = out
		return x, nil
	})
	if p.attempts <= 1 {
		return send
	}
	return pipz.NewBackoff(syncRetryID, send, p.attempts, p.baseDelay)
}

// roundTrip performs one logical request. Failures surface as *SyncError.
func (p *SyncPlugin[T]) roundTrip(ctx context.Context, op, method string, body []byte, gen uint64) (*exchange, error) {
	x, err := p.transport.Process(ctx, &exchange{op: op, method: method, body: body, gen: gen})
	if err == nil {
		return x, nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return nil, se
	}
	var perr *pipz.Error[*exchange]
	if errors.As(err, &perr) && perr.Err != nil {
		err = perr.Err
	}
	return nil, &SyncError{Op: op, Endpoint: p.endpoint, Err: err}
}

func (p *SyncPlugin[T]) do(ctx context.Context, op, method string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.endpoint, reader)
	if err != nil {
		return nil, &SyncError{Op: op, Endpoint: p.endpoint, Err: err}
	}
	for k, vs := range p.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", p.codec.ContentType())
	}
	req.Header.Set("Accept", p.codec.ContentType())
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &SyncError{Op: op, Endpoint: p.endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SyncError{Op: op, Endpoint: p.endpoint, Status: resp.StatusCode, Err: ErrUnexpectedStatus}
	}
	if err != nil {
		return nil, &SyncError{Op: op, Endpoint: p.endpoint, Status: resp.StatusCode, Err: err}
	}
	return data, nil
}

func (p *SyncPlugin[T]) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

func (p *SyncPlugin[T]) emitPulled(ctx context.Context) {
	capitan.Emit(ctx, SyncPulled,
		KeyStore.Field(p.handle.store.name),
		KeyEndpoint.Field(p.endpoint),
	)
}

func (p *SyncPlugin[T]) fail(ctx context.Context, err error) {
	status := 0
	var se *SyncError
	if errors.As(err, &se) {
		status = se.Status
	}
	capitan.Emit(ctx, SyncFailed,
		KeyStore.Field(p.handle.store.name),
		KeyEndpoint.Field(p.endpoint),
		KeyStatus.Field(status),
		KeyError.Field(err.Error()),
	)
	if p.onError != nil {
		p.onError(err)
	}
}

var (
	_ Installer[int] = (*SyncPlugin[int])(nil)
	_ Observer[int]  = (*SyncPlugin[int])(nil)
	_ Closer         = (*SyncPlugin[int])(nil)
	_ RemoteOps      = (*SyncPlugin[int])(nil)
)
