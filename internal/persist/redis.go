package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCmds is the subset of *redis.Client the backend uses.
type redisCmds interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisConfig selects the server. Addr may be host:port or a redis:// URL.
type RedisConfig struct {
	Addr   string
	DB     int
	Prefix string
}

// Redis shares state between machines through one key per namespace.
type Redis struct {
	rdb    redisCmds
	prefix string
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("persist: redis address is required")
	}
	var opt *redis.Options
	if strings.Contains(cfg.Addr, "://") {
		var err error
		if opt, err = redis.ParseURL(cfg.Addr); err != nil {
			return nil, fmt.Errorf("persist: redis url: %w", err)
		}
	} else {
		opt = &redis.Options{Addr: cfg.Addr, DB: cfg.DB}
	}
	rdb := redis.NewClient(opt)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("persist: redis ping: %w", err)
	}
	return newRedis(rdb, cfg.Prefix), nil
}

func newRedis(rdb redisCmds, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(namespace string) string { return r.prefix + namespace }

func (r *Redis) Load(ctx context.Context, namespace string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.key(namespace)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persist: redis get %s: %w", namespace, err)
	}
	return b, nil
}

func (r *Redis) Save(ctx context.Context, namespace string, data []byte) error {
	if err := r.rdb.Set(ctx, r.key(namespace), data, 0).Err(); err != nil {
		return fmt.Errorf("persist: redis set %s: %w", namespace, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, namespace string) error {
	if err := r.rdb.Del(ctx, r.key(namespace)).Err(); err != nil {
		return fmt.Errorf("persist: redis del %s: %w", namespace, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
