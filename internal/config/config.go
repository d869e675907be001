package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Duration parses "5s"-style YAML values; yaml.v3 has no native
// time.Duration support.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	QueueSize  int           `yaml:"queue_size"`
	Remote     RemoteConfig  `yaml:"remote"`
	Storage    StorageConfig `yaml:"storage"`
}

type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
	Token   string   `yaml:"token"`
}

type StorageConfig struct {
	Backend    string   `yaml:"backend"`
	SQLitePath string   `yaml:"sqlite_path"`
	RedisAddr  string   `yaml:"redis_addr"`
	Key        string   `yaml:"key"`
	RedisTTL   Duration `yaml:"redis_ttl"`
}

func defaults() Config {
	return Config{
		ListenAddr: ":8080",
		QueueSize:  64,
		Remote: RemoteConfig{
			Timeout: Duration(5 * time.Second),
		},
		Storage: StorageConfig{
			Backend:    BackendSQLite,
			SQLitePath: "cartsync.db",
			RedisAddr:  "localhost:6379",
			Key:        "cart:snapshot",
		},
	}
}

// Load reads a YAML config file on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, cfg.validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive, got %s", c.Remote.Timeout.Std())
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Key == "" {
		return fmt.Errorf("storage.key must not be empty")
	}
	return nil
}
