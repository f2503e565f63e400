package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Backends lists the storage backends the CLI can open.
var Backends = []string{"file", "redis", "postgres", "etcd", "consul", "nats", "zookeeper", "kubernetes", "firestore"}

// Config holds storage connection settings. Defaults come from the
// environment and can be overridden by flags.
type Config struct {
	Backend    string
	Addr       string // connection string, comma-separated for clustered backends
	Dir        string // file backend directory
	Ext        string // file backend extension
	Prefix     string // key prefix, or root znode for zookeeper
	Table      string // postgres table
	Bucket     string // nats KV bucket
	Namespace  string // kubernetes namespace
	Name       string // kubernetes ConfigMap name
	Kubeconfig string
	Project    string // firestore project
	Collection string // firestore collection
	Timeout    time.Duration
}

// LoadConfig reads defaults from the environment.
// It loads a .env file if present (silent fail if not found).
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Backend:    getEnvOrDefault("STATEZ_BACKEND", "file"),
		Addr:       os.Getenv("STATEZ_ADDR"),
		Dir:        getEnvOrDefault("STATEZ_DIR", ".statez"),
		Ext:        getEnvOrDefault("STATEZ_EXT", ".json"),
		Prefix:     os.Getenv("STATEZ_PREFIX"),
		Table:      getEnvOrDefault("STATEZ_TABLE", "statez"),
		Bucket:     getEnvOrDefault("STATEZ_BUCKET", "statez"),
		Namespace:  getEnvOrDefault("STATEZ_NAMESPACE", "default"),
		Name:       getEnvOrDefault("STATEZ_NAME", "statez"),
		Kubeconfig: os.Getenv("KUBECONFIG"),
		Project:    getEnvOrDefault("STATEZ_PROJECT", os.Getenv("GOOGLE_CLOUD_PROJECT")),
		Collection: getEnvOrDefault("STATEZ_COLLECTION", "statez"),
		Timeout:    getEnvDurationOrDefault("STATEZ_TIMEOUT", 10*time.Second),
	}
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case "file":
		if c.Dir == "" {
			return fmt.Errorf("--dir is required for the file backend")
		}
	case "redis", "postgres", "etcd", "consul", "nats", "zookeeper":
		if c.Addr == "" {
			return fmt.Errorf("--addr (or STATEZ_ADDR) is required for the %s backend", c.Backend)
		}
	case "kubernetes":
		if c.Name == "" {
			return fmt.Errorf("--name is required for the kubernetes backend")
		}
	case "firestore":
		if c.Project == "" {
			return fmt.Errorf("--project (or GOOGLE_CLOUD_PROJECT) is required for the firestore backend")
		}
	default:
		return fmt.Errorf("invalid backend %q: must be one of %v", c.Backend, Backends)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
