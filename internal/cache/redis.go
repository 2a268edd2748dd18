package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/pagecheck"
)

const keyPrefix = "apiutils:check:"

// RedisOptions configures the shared Redis store.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis is a Store shared between processes. Values are JSON encoded.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: strings.TrimSpace(opts.Username),
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	r := newRedis(client, opts.TTL, logger)
	r.logger.Info("redis connected", zap.String("addr", opts.Addr))
	return r, nil
}

func newRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string) (pagecheck.ResultSet, bool) {
	raw, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return pagecheck.ResultSet{}, false
	}
	if err != nil {
		r.logger.Warn("redis get failed", zap.Error(err))
		return pagecheck.ResultSet{}, false
	}
	var rs pagecheck.ResultSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		r.logger.Warn("discarding undecodable cache entry", zap.Error(err))
		return pagecheck.ResultSet{}, false
	}
	return rs, true
}

func (r *Redis) Set(ctx context.Context, key string, rs pagecheck.ResultSet) {
	raw, err := json.Marshal(rs)
	if err != nil {
		r.logger.Warn("encoding cache entry", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, keyPrefix+key, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", zap.Error(err))
	}
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
