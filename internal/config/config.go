// Package config loads the engine configuration: a YAML file with
// sane defaults, overlaid by a small set of environment variables for
// deploy-time overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/riskcast/omen/internal/consumer"
	"github.com/riskcast/omen/internal/emit"
	"github.com/riskcast/omen/internal/ledger"
	"github.com/riskcast/omen/internal/reconcile"
	"github.com/riskcast/omen/internal/source"
	"github.com/riskcast/omen/internal/validate"
)

// Config is the complete engine configuration.
type Config struct {
	Logging    LoggingConfig          `yaml:"logging"`
	Server     ServerConfig           `yaml:"server"`
	Database   DatabaseConfig         `yaml:"database"`
	Redis      RedisConfig            `yaml:"redis"`
	Repository RepositoryConfig       `yaml:"repository"`
	Source     SourceConfig           `yaml:"source"`
	Validation validate.EngineConfig  `yaml:"validation"`
	Rules      validate.RulesConfig   `yaml:"rules"`
	Ledger     ledger.WriterConfig    `yaml:"ledger"`
	Lifecycle  ledger.LifecycleConfig `yaml:"lifecycle"`
	Consumer   consumer.Config        `yaml:"consumer"`
	Emitter    emit.Config            `yaml:"emitter"`
	Reconcile  ReconcileConfig        `yaml:"reconcile"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // console writer instead of JSON
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig controls the optional Postgres repository backend.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // empty disables Postgres
}

// RedisConfig controls the optional repository read cache.
type RedisConfig struct {
	Addr string        `yaml:"addr"` // empty disables the cache
	TTL  time.Duration `yaml:"ttl"`
}

// RepositoryConfig controls the in-memory repository bound.
type RepositoryConfig struct {
	MaxSize int `yaml:"max_size"`
}

// SourceConfig selects and tunes the upstream feed.
type SourceConfig struct {
	Mode   string              `yaml:"mode"` // poll or stream
	Poller source.PollerConfig `yaml:"poller"`
	Stream source.StreamConfig `yaml:"stream"`
}

// ReconcileConfig extends the job settings with the cursor location.
type ReconcileConfig struct {
	Job        reconcile.Config `yaml:"job"`
	OffsetPath string           `yaml:"offset_path"`
}

// Default returns the configuration the engine runs with when no file
// or environment overrides are present.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			ListenAddr:      ":8090",
			ShutdownTimeout: 10 * time.Second,
		},
		Redis:      RedisConfig{TTL: 15 * time.Minute},
		Repository: RepositoryConfig{MaxSize: 10000},
		Source: SourceConfig{
			Mode:   "poll",
			Poller: source.DefaultPollerConfig("polymarket", "https://gamma-api.polymarket.com"),
			Stream: source.DefaultStreamConfig("polymarket", "wss://ws-subscriptions.polymarket.com/ws"),
		},
		Validation: validate.DefaultEngineConfig(),
		Rules:      validate.DefaultRulesConfig(),
		Ledger:     ledger.DefaultWriterConfig("data/ledger"),
		Lifecycle:  ledger.DefaultLifecycleConfig("data/ledger"),
		Consumer:   consumer.Config{BaseURL: "http://localhost:8080"},
		Emitter:    emit.DefaultConfig(),
		Reconcile: ReconcileConfig{
			Job:        reconcile.DefaultConfig(),
			OffsetPath: "data/reconcile.offset",
		},
	}
}

// Load reads the configuration file at path (optional), then applies
// environment overrides. An empty path loads defaults plus the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays the recognized environment variables. Unset
// variables leave the file values alone.
func (c *Config) applyEnv() error {
	if v := os.Getenv("RISKCAST_DB_PATH"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("LEDGER_BASE_PATH"); v != "" {
		// An archive path derived from the old base follows the base;
		// an explicitly configured one stays put.
		if c.Lifecycle.ArchivePath == filepath.Join(c.Ledger.BasePath, "archive") {
			c.Lifecycle.ArchivePath = filepath.Join(v, "archive")
		}
		c.Ledger.BasePath = v
	}
	if v := os.Getenv("CONSUMER_URL"); v != "" {
		c.Consumer.BaseURL = v
	}

	var err error
	if err = envInt64("HOT_MAX_SIZE_BYTES", &c.Ledger.HotMaxBytes); err != nil {
		return err
	}
	if err = envDuration("HOT_MAX_AGE_SECONDS", time.Second, &c.Ledger.HotMaxAge); err != nil {
		return err
	}
	if err = envDuration("WARM_RETENTION_DAYS", 24*time.Hour, &c.Lifecycle.WarmRetention); err != nil {
		return err
	}
	if err = envDuration("COLD_RETENTION_DAYS", 24*time.Hour, &c.Lifecycle.ColdRetention); err != nil {
		return err
	}
	if err = envDuration("DELETE_AFTER_DAYS", 24*time.Hour, &c.Lifecycle.DeleteAfter); err != nil {
		return err
	}
	if err = envDuration("RECONCILE_INTERVAL_SECONDS", time.Second, &c.Reconcile.Job.Interval); err != nil {
		return err
	}
	if err = envIntValue("REPO_MAX_SIZE", &c.Repository.MaxSize); err != nil {
		return err
	}
	return nil
}

func envInt64(name string, dst *int64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func envIntValue(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, unit time.Duration, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = time.Duration(n) * unit
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Ledger.BasePath == "" {
		return fmt.Errorf("ledger.base_path is required")
	}
	if c.Consumer.BaseURL == "" {
		return fmt.Errorf("consumer.base_url is required")
	}
	if c.Ledger.HotMaxBytes < 0 {
		return fmt.Errorf("ledger.hot_max_bytes must not be negative")
	}
	if c.Repository.MaxSize < 0 {
		return fmt.Errorf("repository.max_size must not be negative")
	}
	switch c.Source.Mode {
	case "", "poll", "stream":
	default:
		return fmt.Errorf("source.mode %q is not poll or stream", c.Source.Mode)
	}
	return nil
}
