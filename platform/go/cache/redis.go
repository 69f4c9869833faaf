package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	registryKey = "connkeys"
	depPrefix   = "connkeys:dep:"
)

// RedisConfig holds the connection settings for the Redis-backed cache.
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Redis implements Cache on a shared Redis instance so invalidations issued
// by one directory node are visible to all of them. Every Redis error is
// logged and swallowed: the caller sees a miss or a skipped write, never a
// failure.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis connects to Redis and verifies the connection before returning.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client, prefix: cfg.KeyPrefix, logger: logger}, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Debug("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return value, true
}

func (r *Redis) Put(ctx context.Context, key, value string) {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		r.logger.Debug("cache put failed, skipping", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Remove(ctx context.Context, key string) {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.prefix+key)
	pipe.SRem(ctx, r.prefix+registryKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Debug("cache remove failed, skipping", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) RegisterConnectionKey(ctx context.Context, key string, deps ...string) {
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, r.prefix+registryKey, key)
	for _, dep := range deps {
		if dep == "" {
			continue
		}
		pipe.SAdd(ctx, r.prefix+depPrefix+dep, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Debug("cache key registration failed, skipping", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) InvalidateByFragment(ctx context.Context, fragment string) {
	if fragment == "" {
		return
	}

	stale := make(map[string]struct{})

	depKeys, err := r.client.SMembers(ctx, r.prefix+depPrefix+fragment).Result()
	if err != nil && err != redis.Nil {
		r.logger.Debug("cache dep-index scan failed", zap.String("fragment", fragment), zap.Error(err))
	}
	for _, key := range depKeys {
		stale[key] = struct{}{}
	}

	tracked, err := r.client.SMembers(ctx, r.prefix+registryKey).Result()
	if err != nil && err != redis.Nil {
		r.logger.Debug("cache registry scan failed", zap.String("fragment", fragment), zap.Error(err))
	}
	for _, key := range tracked {
		if strings.Contains(key, fragment) {
			stale[key] = struct{}{}
		}
	}

	if len(stale) == 0 {
		return
	}

	pipe := r.client.Pipeline()
	for key := range stale {
		pipe.Del(ctx, r.prefix+key)
		pipe.SRem(ctx, r.prefix+registryKey, key)
	}
	pipe.Del(ctx, r.prefix+depPrefix+fragment)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Debug("cache invalidation failed, entries may linger", zap.String("fragment", fragment), zap.Error(err))
	}
}

var _ Cache = (*Redis)(nil)
