package mockserver

import (
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

var zlog atomic.Pointer[zerolog.Logger]

// SetLogger installs the structured logger used by the HTTP layer and the
// duplex hub.
func SetLogger(l zerolog.Logger) { zlog.Store(&l) }

func logger() *zerolog.Logger {
	if l := zlog.Load(); l != nil {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off":
		return LevelOff
	case "error":
		return LevelError
	case "", "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// read once
var defaultLogLevel = parseLevel(os.Getenv("SEGMOCK_LOG_LEVEL"))

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// RequestLogger logs one line per request at the level chosen by
// requestLogLevel. Server errors are logged unless logging is off.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		if lvl == LevelOff {
			next.ServeHTTP(w, r)
			return
		}
		sr := wrapRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)

		status := sr.status
		if status < http.StatusInternalServerError && lvl < LevelInfo {
			return
		}
		ev := logger().Info()
		switch {
		case status >= http.StatusInternalServerError:
			ev = logger().Error()
		case lvl >= LevelDebug:
			ev = logger().Debug().Str("query", r.URL.RawQuery).Str("remote", r.RemoteAddr)
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("dur", time.Since(start)).
			Msg("request")
	})
}
