// Package persist stores the client's durable state, one opaque blob per
// namespace. Stores serialize their persisted slice to JSON and hand it to
// a Backend; the backend decides where it lives.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"segclient/internal/common/fsutil"
	"segclient/internal/config"
)

// ErrNotFound is returned by Load when nothing was saved under a namespace.
var ErrNotFound = errors.New("persist: not found")

// Backend is a durable key-value store keyed by namespace.
type Backend interface {
	Load(ctx context.Context, namespace string) ([]byte, error)
	Save(ctx context.Context, namespace string, data []byte) error
	Delete(ctx context.Context, namespace string) error
	Close() error
}

// envelope matches the {"state": ..., "version": N} layout used for
// persisted client state so blobs stay readable across releases.
type envelope struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
}

// SchemaVersion is written with every blob. Blobs with a newer version are
// ignored on load.
const SchemaVersion = 1

// SaveJSON encodes v into the namespace.
func SaveJSON(ctx context.Context, b Backend, namespace string, v any) error {
	state, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persist: encode %s: %w", namespace, err)
	}
	data, err := json.Marshal(envelope{State: state, Version: SchemaVersion})
	if err != nil {
		return fmt.Errorf("persist: encode %s: %w", namespace, err)
	}
	return b.Save(ctx, namespace, data)
}

// LoadJSON decodes the namespace into v. It returns ErrNotFound when the
// namespace is empty or was written by a newer schema.
func LoadJSON(ctx context.Context, b Backend, namespace string, v any) error {
	data, err := b.Load(ctx, namespace)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("persist: decode %s: %w", namespace, err)
	}
	if env.Version > SchemaVersion || len(env.State) == 0 {
		return ErrNotFound
	}
	if err := json.Unmarshal(env.State, v); err != nil {
		return fmt.Errorf("persist: decode %s: %w", namespace, err)
	}
	return nil
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StateConfig, log *zerolog.Logger) (Backend, error) {
	l := zerolog.Nop()
	if log != nil {
		l = *log
	}
	l = l.With().Str("component", "persist").Str("backend", cfg.Backend).Logger()

	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemory(), nil
	case config.BackendRedis:
		return OpenRedis(ctx, RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Prefix: cfg.RedisPrefix})
	case config.BackendFile, config.BackendSQLite, "":
	default:
		return nil, fmt.Errorf("persist: unknown backend %q", cfg.Backend)
	}

	dir, err := fsutil.EnsureDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("persist: state dir: %w", err)
	}
	if cfg.Backend == config.BackendFile {
		l.Debug().Str("dir", dir).Msg("using file state")
		return NewFile(dir)
	}
	path := filepath.Join(dir, "state.db")
	l.Debug().Str("path", path).Msg("using sqlite state")
	return OpenSQLite(ctx, path)
}
