package runlock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"vpnsentry/internal/logger"
)

// Config configures Redis access for the shared run lock.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Lock provides mutual exclusion between scheduled runs across processes.
// Acquisition is a single SET NX PX; the TTL is a safety net against a
// crashed holder, so it must exceed the worst-case run duration.
type Lock struct {
	client *redis.Client
	prefix string
}

// Release is deleted only when the stored token still matches, so an expired
// lock re-acquired by another run is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// New constructs a Redis-backed run lock.
func New(cfg Config) (*Lock, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "vpnsentry:lock"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis lock store: %w", err)
	}

	return &Lock{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// Acquire attempts to take the named lock. It returns a release function and
// whether the lock was acquired; an already-held lock is not an error.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	key := l.prefix + ":" + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Best effort: the TTL reclaims the lock if this fails.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			logger.Warnf("Failed to release lock %s: %v", name, err)
		}
	}
	return release, true, nil
}

// Close closes the underlying client.
func (l *Lock) Close() error {
	return l.client.Close()
}
