package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/zoobzio/statez"
	redisstore "github.com/zoobzio/statez/pkg/redis"
	statetest "github.com/zoobzio/statez/testing"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	if err := client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		t.Fatalf("failed to enable keyspace notifications: %v", err)
	}
	return client
}

func TestRedis_StoresShareState(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	a := statez.New[appSettings](appSettings{Feature: "a"},
		statez.Validate[appSettings](),
		statez.Persist[appSettings](redisstore.New(client, redisstore.WithPrefix("it:")), "app").WatchExternal(),
	).Name("a")
	start(t, a)

	b := statez.New[appSettings](appSettings{Feature: "b"},
		statez.Validate[appSettings](),
		statez.Persist[appSettings](redisstore.New(client, redisstore.WithPrefix("it:")), "app").WatchExternal(),
	).Name("b")
	start(t, b)

	if err := a.Set(ctx, appSettings{Feature: "from-a", Limit: 1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !statetest.WaitForValue(t, b, 10*time.Second, func(s appSettings) bool { return s.Feature == "from-a" }) {
		t.Fatalf("b did not observe a's write, has %+v", b.Get())
	}

	if err := b.Set(ctx, appSettings{Feature: "from-b", Limit: 2}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !statetest.WaitForValue(t, a, 10*time.Second, func(s appSettings) bool { return s.Feature == "from-b" }) {
		t.Fatalf("a did not observe b's write, has %+v", a.Get())
	}

	// An invalid external value is rejected and not applied.
	if err := client.Set(ctx, "it:app", `{"feature":"","limit":-1}`, 0).Err(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if a.Get().Feature != "from-b" {
		t.Errorf("invalid external value was applied: %+v", a.Get())
	}
}
