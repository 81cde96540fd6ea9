package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"api scheme":    func(c *Config) { c.API.BaseURL = "ftp://x" },
		"api relative":  func(c *Config) { c.API.BaseURL = "/api" },
		"ws scheme":     func(c *Config) { c.WS.BaseURL = "http://x" },
		"timeout":       func(c *Config) { c.API.Timeout = D(0) },
		"attempts":      func(c *Config) { c.WS.MaxReconnectAttempts = -1 },
		"heartbeat":     func(c *Config) { c.WS.Heartbeat = D(0) },
		"backend":       func(c *Config) { c.State.Backend = "etcd" },
		"redis no addr": func(c *Config) { c.State.Backend = BackendRedis },
		"log format":    func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mut := range cases {
		cfg := Default()
		mut(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://api.example")
	t.Setenv(EnvStoreBackend, BackendMemory)
	t.Setenv(EnvRequestTimeout, "5s")
	t.Setenv(EnvRedisDB, "2")
	t.Setenv(EnvMockCORSOrigins, "http://a, http://b,")
	t.Setenv(EnvDebounceWindow, "garbage")
	cfg := ApplyEnv(Default())
	if cfg.API.BaseURL != "https://api.example" || cfg.State.Backend != BackendMemory {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.API.Timeout.Duration != 5*time.Second || cfg.State.RedisDB != 2 {
		t.Fatalf("typed env not applied: %+v", cfg)
	}
	if len(cfg.Mock.CORSOrigins) != 2 || cfg.Mock.CORSOrigins[1] != "http://b" {
		t.Fatalf("cors origins: %v", cfg.Mock.CORSOrigins)
	}
	if cfg.UI.DebounceWindow.Duration != 300*time.Millisecond {
		t.Fatalf("invalid duration should keep default, got %v", cfg.UI.DebounceWindow)
	}
}

func TestLoadDotEnvMissingIsOK(t *testing.T) {
	if err := LoadDotEnv(t.TempDir() + "/nope.env"); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "x.env", "SEGCLIENT_TEST_DOTENV=hello\n")
	t.Setenv("SEGCLIENT_TEST_DOTENV", "")
	os.Unsetenv("SEGCLIENT_TEST_DOTENV")
	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("SEGCLIENT_TEST_DOTENV"); got != "hello" {
		t.Fatalf("dotenv value = %q", got)
	}
}
