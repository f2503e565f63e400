package statez

import (
	"testing"
	"time"
)

func TestFieldKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
	}{
		{"store", KeyStore.Field("counter").Key().Name()},
		{"origin", KeyOrigin.Field(OriginUser.String()).Key().Name()},
		{"plugin", KeyPlugin.Field("history").Key().Name()},
		{"error", KeyError.Field("boom").Key().Name()},
		{"duration", KeyDuration.Field(time.Second).Key().Name()},
		{"endpoint", KeyEndpoint.Field("http://localhost").Key().Name()},
		{"key", KeyKey.Field("app").Key().Name()},
		{"status", KeyStatus.Field(500).Key().Name()},
		{"version", KeyVersion.Field(3).Key().Name()},
	}

	for _, tt := range tests {
		if tt.got != tt.name {
			t.Errorf("expected key %q, got %q", tt.name, tt.got)
		}
	}
}
