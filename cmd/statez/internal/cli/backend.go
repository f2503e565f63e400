package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-zookeeper/zk"
	"github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/zoobzio/statez"
	consulstore "github.com/zoobzio/statez/pkg/consul"
	etcdstore "github.com/zoobzio/statez/pkg/etcd"
	filestore "github.com/zoobzio/statez/pkg/file"
	fsstore "github.com/zoobzio/statez/pkg/firestore"
	k8sstore "github.com/zoobzio/statez/pkg/kubernetes"
	natsstore "github.com/zoobzio/statez/pkg/nats"
	pgstore "github.com/zoobzio/statez/pkg/postgres"
	redisstore "github.com/zoobzio/statez/pkg/redis"
	zkstore "github.com/zoobzio/statez/pkg/zookeeper"
)

const dialTimeout = 5 * time.Second

// OpenStorage connects to the configured backend. The returned close
// function releases the connection.
func OpenStorage(ctx context.Context, cfg *Config) (statez.Storage, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case "file":
		return filestore.New(cfg.Dir, filestore.WithExtension(cfg.Ext)), noop, nil

	case "redis":
		opts, err := goredis.ParseURL(redisURL(cfg.Addr))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis address: %w", err)
		}
		client := goredis.NewClient(opts)
		return redisstore.New(client, redisstore.WithPrefix(cfg.Prefix), redisstore.WithDB(opts.DB)),
			func() { _ = client.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		s := pgstore.New(pool, pgstore.WithTable(cfg.Table))
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil

	case "etcd":
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   splitAddr(cfg.Addr),
			DialTimeout: dialTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		return etcdstore.New(client, etcdstore.WithPrefix(cfg.Prefix)), func() { _ = client.Close() }, nil

	case "consul":
		client, err := api.NewClient(&api.Config{Address: cfg.Addr})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create consul client: %w", err)
		}
		return consulstore.New(client, consulstore.WithPrefix(cfg.Prefix)), noop, nil

	case "nats":
		nc, err := nats.Connect(cfg.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create jetstream: %w", err)
		}
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: cfg.Bucket})
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to open kv bucket %s: %w", cfg.Bucket, err)
		}
		return natsstore.New(kv, natsstore.WithPrefix(cfg.Prefix)), nc.Close, nil

	case "zookeeper":
		conn, _, err := zk.Connect(splitAddr(cfg.Addr), dialTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
		}
		var opts []zkstore.Option
		if cfg.Prefix != "" {
			opts = append(opts, zkstore.WithRoot(cfg.Prefix))
		}
		return zkstore.New(conn, opts...), conn.Close, nil

	case "kubernetes":
		restConfig, err := clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load kubeconfig: %w", err)
		}
		client, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kubernetes client: %w", err)
		}
		return k8sstore.New(client, cfg.Namespace, cfg.Name), noop, nil

	case "firestore":
		// An address points at an emulator; otherwise default credentials apply.
		var opts []option.ClientOption
		if cfg.Addr != "" {
			conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to dial firestore emulator: %w", err)
			}
			opts = append(opts, option.WithGRPCConn(conn))
		}
		client, err := firestore.NewClient(ctx, cfg.Project, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		return fsstore.New(client, fsstore.WithCollection(cfg.Collection)), func() { _ = client.Close() }, nil
	}

	return nil, nil, fmt.Errorf("invalid backend %q: must be one of %v", cfg.Backend, Backends)
}

func splitAddr(addr string) []string {
	parts := strings.Split(addr, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// redisURL accepts either a redis:// URL or a bare host:port.
func redisURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "redis://" + addr
}
