package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zoobzio/statez"
	"github.com/zoobzio/statez/pkg/file"
	statetest "github.com/zoobzio/statez/testing"
)

func TestFile_EditorAndFollower(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	history := statez.History[appSettings](10)
	editor := statez.New[appSettings](appSettings{Feature: "v1", Limit: 10},
		statez.Validate[appSettings](),
		capLimit(),
		history,
		statez.Persist[appSettings](file.New(dir, file.WithExtension(".json")), "app"),
	).Name("editor")
	start(t, editor)

	follower := statez.New[appSettings](appSettings{},
		statez.Persist[appSettings](file.New(dir, file.WithExtension(".json")), "app").WatchExternal(),
	).Name("follower")
	start(t, follower)

	if err := editor.Set(ctx, appSettings{Feature: "v2", Limit: 20}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !statetest.WaitForValue(t, follower, 5*time.Second, func(s appSettings) bool { return s.Feature == "v2" }) {
		t.Fatalf("follower did not observe v2, has %+v", follower.Get())
	}

	// Rejected commits never reach storage.
	err := editor.Set(ctx, appSettings{Feature: "v3", Limit: 5000})
	if !errors.Is(err, errLimitTooHigh) {
		t.Fatalf("expected errLimitTooHigh, got %v", err)
	}
	if err := editor.Set(ctx, appSettings{Limit: 1}); !errors.Is(err, statez.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if history.Past()[len(history.Past())-1].Feature != "v1" {
		t.Errorf("rejected values must not be recorded, past = %+v", history.Past())
	}

	// Undo is persisted like any other commit.
	if err := history.Undo(ctx); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if !statetest.WaitForValue(t, follower, 5*time.Second, func(s appSettings) bool { return s.Feature == "v1" }) {
		t.Fatalf("follower did not observe undo, has %+v", follower.Get())
	}
}

func TestFile_RestartRestoresValue(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	storage := file.New(dir)

	first := statez.New[appSettings](appSettings{Feature: "default"},
		statez.Persist[appSettings](storage, "app"),
	)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := first.Set(ctx, appSettings{Feature: "saved", Limit: 7}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	_ = first.Close()

	second := statez.New[appSettings](appSettings{Feature: "default"},
		statez.Persist[appSettings](storage, "app"),
	)
	start(t, second)
	statetest.RequireValue(t, second, appSettings{Feature: "saved", Limit: 7})
}

func TestFile_CorruptFileKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	var reported error
	store := statez.New[appSettings](appSettings{Feature: "default"},
		statez.Persist[appSettings](file.New(dir), "app").OnError(func(err error) { reported = err }),
	)
	start(t, store)

	if store.Get().Feature != "default" {
		t.Errorf("expected default value, got %+v", store.Get())
	}
	if reported == nil {
		t.Error("expected decode error to be reported")
	}
}
