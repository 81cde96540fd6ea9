package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Duration is a time.Duration that reads from strings such as "30s" in
// yaml, json and toml files.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

// D wraps a time.Duration.
func D(v time.Duration) Duration { return Duration{Duration: v} }

// Config holds client and mock server settings. Values absent from a file
// keep their defaults.
type Config struct {
	API     APIConfig     `json:"api" yaml:"api" toml:"api"`
	WS      WSConfig      `json:"ws" yaml:"ws" toml:"ws"`
	State   StateConfig   `json:"state" yaml:"state" toml:"state"`
	UI      UIConfig      `json:"ui" yaml:"ui" toml:"ui"`
	Log     LogConfig     `json:"log" yaml:"log" toml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" toml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing" toml:"tracing"`
	Mock    MockConfig    `json:"mock" yaml:"mock" toml:"mock"`
}

type APIConfig struct {
	BaseURL string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	Timeout Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	// How long image info lookups stay cached.
	InfoCacheTTL Duration `json:"info_cache_ttl" yaml:"info_cache_ttl" toml:"info_cache_ttl"`
}

type WSConfig struct {
	BaseURL              string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	ReconnectBase        Duration `json:"reconnect_base" yaml:"reconnect_base" toml:"reconnect_base"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	Heartbeat            Duration `json:"heartbeat" yaml:"heartbeat" toml:"heartbeat"`
	// Store-level retry after a connection error. Zero disables it.
	StoreRetryDelay Duration `json:"store_retry_delay" yaml:"store_retry_delay" toml:"store_retry_delay"`
}

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type StateConfig struct {
	Dir         string `json:"dir" yaml:"dir" toml:"dir"`
	Backend     string `json:"backend" yaml:"backend" toml:"backend"`
	RedisAddr   string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisDB     int    `json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	RedisPrefix string `json:"redis_prefix" yaml:"redis_prefix" toml:"redis_prefix"`
}

type UIConfig struct {
	ToastDuration  Duration `json:"toast_duration" yaml:"toast_duration" toml:"toast_duration"`
	DebounceWindow Duration `json:"debounce_window" yaml:"debounce_window" toml:"debounce_window"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" toml:"level"`
	// console or json
	Format     string `json:"format" yaml:"format" toml:"format"`
	File       string `json:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

type TracingConfig struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Insecure    bool   `json:"insecure" yaml:"insecure" toml:"insecure"`
	ServiceName string `json:"service_name" yaml:"service_name" toml:"service_name"`
}

type MockConfig struct {
	Addr          string   `json:"addr" yaml:"addr" toml:"addr"`
	CORSOrigins   []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	ProgressDelay Duration `json:"progress_delay" yaml:"progress_delay" toml:"progress_delay"`
	CatalogFile   string   `json:"catalog_file" yaml:"catalog_file" toml:"catalog_file"`
}

const (
	defaultAPIBaseURL      = "http://localhost:8000"
	defaultWSBaseURL       = "ws://localhost:8000"
	defaultRequestTimeout  = 30 * time.Second
	defaultInfoCacheTTL    = 5 * time.Minute
	defaultReconnectBase   = time.Second
	defaultMaxReconnects   = 5
	defaultHeartbeat       = 30 * time.Second
	defaultStoreRetryDelay = 3 * time.Second
	defaultToastDuration   = 5 * time.Second
	defaultDebounceWindow  = 300 * time.Millisecond
	defaultStateDir        = "~/.segclient"
	defaultMockAddr        = ":8000"
	defaultProgressDelay   = 150 * time.Millisecond
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:      defaultAPIBaseURL,
			Timeout:      D(defaultRequestTimeout),
			InfoCacheTTL: D(defaultInfoCacheTTL),
		},
		WS: WSConfig{
			BaseURL:              defaultWSBaseURL,
			ReconnectBase:        D(defaultReconnectBase),
			MaxReconnectAttempts: defaultMaxReconnects,
			Heartbeat:            D(defaultHeartbeat),
			StoreRetryDelay:      D(defaultStoreRetryDelay),
		},
		State: StateConfig{
			Dir:         defaultStateDir,
			Backend:     BackendSQLite,
			RedisPrefix: "segclient:",
		},
		UI: UIConfig{
			ToastDuration:  D(defaultToastDuration),
			DebounceWindow: D(defaultDebounceWindow),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Tracing: TracingConfig{ServiceName: "segclient"},
		Mock: MockConfig{
			Addr:          defaultMockAddr,
			CORSOrigins:   []string{"*"},
			ProgressDelay: D(defaultProgressDelay),
		},
	}
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if err := checkURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("ws.base_url", c.WS.BaseURL, "ws", "wss"); err != nil {
		return err
	}
	if c.API.Timeout.Duration <= 0 {
		return fmt.Errorf("config: api.timeout must be positive")
	}
	if c.WS.ReconnectBase.Duration <= 0 {
		return fmt.Errorf("config: ws.reconnect_base must be positive")
	}
	if c.WS.MaxReconnectAttempts < 0 {
		return fmt.Errorf("config: ws.max_reconnect_attempts must be >= 0")
	}
	if c.WS.Heartbeat.Duration <= 0 {
		return fmt.Errorf("config: ws.heartbeat must be positive")
	}
	if c.WS.StoreRetryDelay.Duration < 0 {
		return fmt.Errorf("config: ws.store_retry_delay must be >= 0")
	}
	if c.UI.DebounceWindow.Duration < 0 {
		return fmt.Errorf("config: ui.debounce_window must be >= 0")
	}
	switch c.State.Backend {
	case BackendSQLite, BackendFile, BackendMemory:
	case BackendRedis:
		if c.State.RedisAddr == "" {
			return fmt.Errorf("config: state.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown state.backend %q", c.State.Backend)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("config: %s %q is not an absolute URL", field, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("config: %s scheme must be one of %v", field, schemes)
}
