// Package config loads titlechain's service configuration. Files are YAML
// (.yaml, .yml) or TOML (.toml); keys a file leaves out keep their defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Database  Database  `yaml:"database" toml:"database"`
	Ledger    Ledger    `yaml:"ledger" toml:"ledger"`
	HTTP      HTTP      `yaml:"http" toml:"http"`
	Reconcile Reconcile `yaml:"reconcile" toml:"reconcile"`
	Citizens  Citizens  `yaml:"citizens" toml:"citizens"`
	Log       Log       `yaml:"log" toml:"log"`
}

// Database selects the relational store.
type Database struct {
	// DSN is a SQLite file path or a postgres:// URL.
	DSN string `yaml:"dsn" toml:"dsn"`
}

// Ledger configures the peer set and gateway.
type Ledger struct {
	// Dir holds one goleveldb directory per peer. Empty keeps peers in memory.
	Dir           string        `yaml:"dir" toml:"dir"`
	Peers         int           `yaml:"peers" toml:"peers"`
	SubmitTimeout time.Duration `yaml:"submit_timeout" toml:"submit_timeout"`
	ReceiptCache  int           `yaml:"receipt_cache" toml:"receipt_cache"`
}

// HTTP configures the API listener.
type HTTP struct {
	Addr            string        `yaml:"addr" toml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Reconcile configures the background sweep.
type Reconcile struct {
	Interval  time.Duration `yaml:"interval" toml:"interval"`
	OnStartup bool          `yaml:"on_startup" toml:"on_startup"`
}

// Citizens configures the citizen directory.
type Citizens struct {
	// Enforce makes asset owners and deal buyers resolve against the
	// directory; an unregistered party is rejected.
	Enforce bool `yaml:"enforce" toml:"enforce"`
}

// Log configures the zerolog logger.
type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: Database{DSN: "titlechain.db"},
		Ledger: Ledger{
			Dir:           "ledger",
			Peers:         3,
			SubmitTimeout: 5 * time.Second,
			ReceiptCache:  1024,
		},
		HTTP: HTTP{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Reconcile: Reconcile{
			Interval:  time.Minute,
			OnStartup: true,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("parse %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension %q (want .yaml, .yml or .toml)", path, ext)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Ledger.Peers < 1 {
		errs = append(errs, fmt.Errorf("ledger.peers must be at least 1, got %d", c.Ledger.Peers))
	}
	if c.Ledger.SubmitTimeout < 0 {
		errs = append(errs, fmt.Errorf("ledger.submit_timeout must not be negative, got %s", c.Ledger.SubmitTimeout))
	}
	if c.Ledger.ReceiptCache < 0 {
		errs = append(errs, fmt.Errorf("ledger.receipt_cache must not be negative, got %d", c.Ledger.ReceiptCache))
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Reconcile.Interval <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.interval must be positive, got %s", c.Reconcile.Interval))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
