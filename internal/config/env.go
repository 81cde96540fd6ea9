package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"segclient/internal/common/fsutil"
)

// Environment variables that override file settings.
const (
	EnvAPIURL          = "SEGCLIENT_API_URL"
	EnvWSURL           = "SEGCLIENT_WS_URL"
	EnvRequestTimeout  = "SEGCLIENT_REQUEST_TIMEOUT"
	EnvStateDir        = "SEGCLIENT_STATE_DIR"
	EnvStoreBackend    = "SEGCLIENT_STORE_BACKEND"
	EnvRedisAddr       = "SEGCLIENT_REDIS_ADDR"
	EnvRedisDB         = "SEGCLIENT_REDIS_DB"
	EnvLogLevel        = "SEGCLIENT_LOG_LEVEL"
	EnvLogFormat       = "SEGCLIENT_LOG_FORMAT"
	EnvLogFile         = "SEGCLIENT_LOG_FILE"
	EnvMetricsAddr     = "SEGCLIENT_METRICS_ADDR"
	EnvOTLPEndpoint    = "SEGCLIENT_OTLP_ENDPOINT"
	EnvDebounceWindow  = "SEGCLIENT_DEBOUNCE_WINDOW"
	EnvStoreRetryDelay = "SEGCLIENT_STORE_RETRY_DELAY"
	EnvMockAddr        = "SEGMOCK_ADDR"
	EnvMockCORSOrigins = "SEGMOCK_CORS_ORIGINS"
)

// LoadDotEnv loads variables from path (".env" when empty) without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if !fsutil.PathExists(path) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg Config) Config {
	cfg.API.BaseURL = envStr(EnvAPIURL, cfg.API.BaseURL)
	cfg.API.Timeout = D(envDuration(EnvRequestTimeout, cfg.API.Timeout.Duration))
	cfg.WS.BaseURL = envStr(EnvWSURL, cfg.WS.BaseURL)
	cfg.WS.StoreRetryDelay = D(envDuration(EnvStoreRetryDelay, cfg.WS.StoreRetryDelay.Duration))
	cfg.State.Dir = envStr(EnvStateDir, cfg.State.Dir)
	cfg.State.Backend = envStr(EnvStoreBackend, cfg.State.Backend)
	cfg.State.RedisAddr = envStr(EnvRedisAddr, cfg.State.RedisAddr)
	cfg.State.RedisDB = envInt(EnvRedisDB, cfg.State.RedisDB)
	cfg.Log.Level = envStr(EnvLogLevel, cfg.Log.Level)
	cfg.Log.Format = envStr(EnvLogFormat, cfg.Log.Format)
	cfg.Log.File = envStr(EnvLogFile, cfg.Log.File)
	cfg.Metrics.Addr = envStr(EnvMetricsAddr, cfg.Metrics.Addr)
	cfg.Tracing.Endpoint = envStr(EnvOTLPEndpoint, cfg.Tracing.Endpoint)
	cfg.UI.DebounceWindow = D(envDuration(EnvDebounceWindow, cfg.UI.DebounceWindow.Duration))
	cfg.Mock.Addr = envStr(EnvMockAddr, cfg.Mock.Addr)
	if v := os.Getenv(EnvMockCORSOrigins); v != "" {
		cfg.Mock.CORSOrigins = splitCSV(v)
	}
	return cfg
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
