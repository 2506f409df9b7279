// Package config loads runtime configuration for the wot daemon: viper over
// a config.yaml that is watched for changes, with a small set of bootstrap
// keys that must be read from yaml before the store exists. Every key comes
// from config.yaml or its viper default; this package does not read the
// store's config table.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// YamlOnlyKeys are bootstrap settings read once at startup, before the
// store is opened, so they cannot live in the store's own config table
// (mirroring the teacher's yaml_config.go "startup settings" split).
var YamlOnlyKeys = map[string]bool{
	"socket-path": true,
	"tcp-addr":    true,
	"db-path":     true,
	"log-level":   true,
}

// Defaults for keys this package knows about, registered as viper defaults
// and returned when config.yaml does not set the key.
const (
	DefaultFetchConcurrency = 4
	DefaultPuzzlePoolSize   = 40
	DefaultInsertJitter     = 0.5
	DefaultLogLevel         = "info"
)

// Config wraps a viper instance over one config.yaml and watches it for
// changes, so its getters return the re-read values after the file is
// edited. The daemon reads fetch concurrency and log level once at
// startup and does not apply a later change to either until it restarts.
type Config struct {
	mu sync.RWMutex
	v  *viper.Viper

	onReload []func()
}

// Load reads configPath (creating a default in-memory config if the file
// does not exist — matching the teacher's "don't error if missing"
// posture for yaml-only settings) and starts watching it for changes.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("fetch-concurrency", DefaultFetchConcurrency)
	v.SetDefault("puzzle-pool-size", DefaultPuzzlePoolSize)
	v.SetDefault("insert-jitter", DefaultInsertJitter)
	v.SetDefault("log-level", DefaultLogLevel)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	c := &Config{v: v}
	v.OnConfigChange(func(fsnotify.Event) {
		c.mu.Lock()
		hooks := append([]func(){}, c.onReload...)
		c.mu.Unlock()
		for _, hook := range hooks {
			hook()
		}
	})
	v.WatchConfig()
	return c, nil
}

// OnReload registers fn to be called after the underlying file changes and
// viper has re-read it. No worker in this module registers a hook.
func (c *Config) OnReload(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReload = append(c.onReload, fn)
}

// FetchConcurrency returns the configured bounded-pool size for the
// fetcher worker (spec §4.5 "bounded pool of concurrent fetches").
func (c *Config) FetchConcurrency() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(c.v.GetInt("fetch-concurrency"))
}

// PuzzlePoolSize returns the configured puzzle-pool-size key. The
// introduction-client does not read it: its pool is bounded by the
// constant puzzle.PoolSize.
func (c *Config) PuzzlePoolSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetInt("puzzle-pool-size")
}

// InsertJitter returns the configured insert-jitter key. The inserter
// worker does not read it: its spread around the base period is the
// constant inserter.JitterFraction.
func (c *Config) InsertJitter() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetFloat64("insert-jitter")
}

// LogLevel returns the configured slog level, re-readable live.
func (c *Config) LogLevel() slog.Level {
	c.mu.RLock()
	raw := c.v.GetString("log-level")
	c.mu.RUnlock()

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// SocketPath returns the yaml-only Unix socket path the daemon listens on.
func (c *Config) SocketPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString("socket-path")
}

// DBPath returns the yaml-only path to the SQLite database file.
func (c *Config) DBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString("db-path")
}

// ParseBool is a small helper for interpreting store-backed config values
// (strings, since the store's config table is string-valued) as booleans,
// defaulting to false on a malformed value rather than erroring.
func ParseBool(raw string) bool {
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return b
}
