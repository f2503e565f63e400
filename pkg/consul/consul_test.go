package consul

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcconsul "github.com/testcontainers/testcontainers-go/modules/consul"

	"github.com/zoobzio/statez"
	statetest "github.com/zoobzio/statez/testing"
)

func setupConsul(t *testing.T) *api.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcconsul.Run(ctx, "hashicorp/consul:1.15")
	require.NoError(t, err, "failed to start consul container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ApiEndpoint(ctx)
	require.NoError(t, err)

	client, err := api.NewClient(&api.Config{Address: endpoint})
	require.NoError(t, err)
	return client
}

func TestStorage(t *testing.T) {
	client := setupConsul(t)
	statetest.StorageSuite(t, func(t *testing.T) statez.Storage {
		_, err := client.KV().DeleteTree("suite/", nil)
		require.NoError(t, err)
		return New(client, WithPrefix("suite/"))
	})
}

func TestStorage_Prefix(t *testing.T) {
	client := setupConsul(t)
	ctx := context.Background()

	s := New(client, WithPrefix("app/"))
	require.NoError(t, s.Write(ctx, "settings", []byte("v")))

	pair, _, err := client.KV().Get("app/settings", nil)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "v", string(pair.Value))
}

func TestStorage_PersistsStore(t *testing.T) {
	client := setupConsul(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	storage := New(client, WithPrefix("statez/"))
	require.NoError(t, storage.Write(ctx, "settings", []byte(`{"theme":"dark","size":12}`)))

	store := statez.New[statetest.TestSettings](statetest.TestSettings{Theme: "light"},
		statez.Persist[statetest.TestSettings](storage, "settings").WatchExternal(),
	)
	require.NoError(t, store.Start(ctx))
	defer store.Close()
	assert.Equal(t, "dark", store.Get().Theme)

	_, err := client.KV().Put(&api.KVPair{Key: "statez/settings", Value: []byte(`{"theme":"remote","size":14}`)}, nil)
	require.NoError(t, err)
	assert.True(t, statetest.WaitForValue(t, store, 10*time.Second, func(s statetest.TestSettings) bool {
		return s.Theme == "remote"
	}))
}
