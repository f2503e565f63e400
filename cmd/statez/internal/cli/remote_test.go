package cli

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	method string
	header http.Header
	body   string
}

// endpoint is a fake remote that serves body on GET and records writes.
type endpoint struct {
	mu       sync.Mutex
	body     string
	status   int
	requests []request
}

func (e *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, request{method: r.Method, header: r.Header.Clone(), body: string(data)})

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if e.status != 0 {
		w.WriteHeader(e.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, e.body)
}

func (e *endpoint) writes() []request {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []request
	for _, r := range e.requests {
		if r.method != http.MethodGet {
			out = append(out, r)
		}
	}
	return out
}

func TestPull(t *testing.T) {
	remote := &endpoint{body: `{"data":{"theme":"remote","size":14}}`}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	dir := t.TempDir()
	out, err := run(t, dir, "pull", "settings", "--endpoint", srv.URL, "--response-path", "data")
	require.NoError(t, err)
	assert.Contains(t, out, "pulled settings")

	data, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"remote","size":14}`, string(data))
	assert.Empty(t, remote.writes(), "pull must not write back to the remote")
}

func TestPull_RemoteFailureKeepsStorage(t *testing.T) {
	remote := &endpoint{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	dir := t.TempDir()
	_, err := run(t, dir, "set", "settings", `{"theme":"local"}`)
	require.NoError(t, err)

	_, err = run(t, dir, "pull", "settings", "--endpoint", srv.URL)
	require.Error(t, err)

	out, err := run(t, dir, "get", "settings")
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"local"}`, out)
}

func TestPush(t *testing.T) {
	remote := &endpoint{body: `{"theme":"stale"}`}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	dir := t.TempDir()
	_, err := run(t, dir, "set", "settings", `{"theme":"local","size":11}`)
	require.NoError(t, err)

	out, err := run(t, dir, "push", "settings",
		"--endpoint", srv.URL,
		"--method", http.MethodPut,
		"-H", "Authorization: Bearer token",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "pushed settings")

	writes := remote.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, http.MethodPut, writes[0].method)
	assert.Equal(t, "Bearer token", writes[0].header.Get("Authorization"))
	assert.JSONEq(t, `{"theme":"local","size":11}`, writes[0].body)

	// The stored value is left as it was.
	data, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"local","size":11}`, string(data))
}

func TestPush_MissingKey(t *testing.T) {
	srv := httptest.NewServer(&endpoint{})
	defer srv.Close()

	_, err := run(t, t.TempDir(), "push", "settings", "--endpoint", srv.URL)
	assert.True(t, errors.Is(err, ErrKeyNotFound), "got %v", err)
}

func TestPush_InvalidHeader(t *testing.T) {
	srv := httptest.NewServer(&endpoint{})
	defer srv.Close()

	dir := t.TempDir()
	_, err := run(t, dir, "set", "settings", `{}`)
	require.NoError(t, err)

	_, err = run(t, dir, "push", "settings", "--endpoint", srv.URL, "-H", "no-colon")
	assert.Error(t, err)
}

func TestPush_RequiresEndpoint(t *testing.T) {
	_, err := run(t, t.TempDir(), "push", "settings")
	assert.Error(t, err)
}
