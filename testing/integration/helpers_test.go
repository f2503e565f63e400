package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/statez"
)

type appSettings struct {
	Feature string `json:"feature" validate:"required"`
	Limit   int    `json:"limit" validate:"gte=0"`
}

var errLimitTooHigh = errors.New("limit exceeds 1000")

// capLimit is a business rule applied after struct validation.
func capLimit() statez.Plugin[appSettings] {
	return statez.Effect("cap-limit", func(_ context.Context, c statez.Commit[appSettings]) error {
		if c.Next.Limit > 1000 {
			return errLimitTooHigh
		}
		return nil
	})
}

func start[T any](t *testing.T, s *statez.Store[T]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
}
