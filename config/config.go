// Package config loads the constants that bound the server, engine, and
// client reconnect behavior from a YAML file. Load also loads a .env file
// into the process environment, but no Config field is read from
// environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full set of constants an embedder can tune. Every field
// has a sane out-of-the-box default applied by Default().
type Config struct {
	// StaticHTTPPort serves the controller assets; out of scope for this
	// module but surfaced here since the WebSocket port is derived from
	// it by convention.
	StaticHTTPPort int `yaml:"staticHttpPort"`
	// WebSocketPort defaults to 8082, the default StaticHTTPPort+2, avoiding
	// the bundler ecosystem's customary use of +1. It is not recomputed when
	// StaticHTTPPort is overridden.
	WebSocketPort int `yaml:"websocketPort"`

	MaxFrameSize      int           `yaml:"maxFrameSize"`
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	KeepaliveTimeout  time.Duration `yaml:"keepaliveTimeout"`
	StaleRemovalDelay time.Duration `yaml:"staleRemovalDelay"`
	BroadcastThrottle time.Duration `yaml:"broadcastThrottle"`

	// StrictMasking is loaded and defaults to off, but nothing reads it:
	// the server accepts unmasked client frames whatever its value.
	StrictMasking bool `yaml:"strictMasking"`

	// Client-side reconnect and time-sync constants. No package in this
	// module reads them or sends them to controllers.
	SyncInterval    time.Duration `yaml:"syncInterval"`
	MaxPendingPings int           `yaml:"maxPendingPings"`
	MaxRetries      int           `yaml:"maxRetries"`
	BaseDelay       time.Duration `yaml:"baseDelay"`
	MaxDelay        time.Duration `yaml:"maxDelay"`
}

// Default returns the reference out-of-the-box defaults.
func Default() Config {
	return Config{
		StaticHTTPPort:    8080,
		WebSocketPort:     8082,
		MaxFrameSize:      1 << 20,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
		StaleRemovalDelay: 5 * time.Minute,
		BroadcastThrottle: 33 * time.Millisecond,
		StrictMasking:     false,
		SyncInterval:      5 * time.Second,
		MaxPendingPings:   50,
		MaxRetries:        5,
		BaseDelay:         time.Second,
		MaxDelay:          10 * time.Second,
	}
}

// Load reads .env (if present, via godotenv, silently ignored if absent)
// then a YAML config file, overlaying its fields onto Default(). An empty
// path skips the YAML step and returns the defaults.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// WebSocketAddr returns the bind address for the WebSocket listener.
func (c Config) WebSocketAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.WebSocketPort)
}
