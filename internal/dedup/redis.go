package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis marks rows with SET NX under a TTL, the same shape retained for
// the in-memory store's age window. Because the state lives outside the
// process, a restarted bridge does not re-deliver rows it already
// surfaced.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects and verifies reachability.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("dedup: redis ping failed: %w", err)
	}

	logger.Info("redis dedup store connected", zap.String("addr", cfg.Addr))

	return &Redis{rdb: rdb, ttl: entryAge, logger: logger}, nil
}

func (r *Redis) key(rowID int64) string {
	return fmt.Sprintf("echobridge:seen:%d", rowID)
}

// MarkSeen is an atomic set-if-not-exists; true means the row was new.
func (r *Redis) MarkSeen(ctx context.Context, rowID int64) (bool, error) {
	set, err := r.rdb.SetNX(ctx, r.key(rowID), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis setnx: %w", err)
	}
	return set, nil
}

// Prune is a no-op; key TTLs bound memory server-side.
func (r *Redis) Prune(context.Context) {}

// Close releases the connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
