package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/config"
)

// Redis wraps the go-redis client. Keys written by the service share
// the configured prefix.
type Redis struct {
	Client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis builds a client without dialing; call Ping to check reachability.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &Redis{Client: client, prefix: cfg.KeyPrefix, logger: logger}
}

// Key joins parts under the key prefix.
func (r *Redis) Key(parts ...string) string {
	return r.prefix + strings.Join(parts, ":")
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.Debug("redis reachable", zap.String("addr", r.Client.Options().Addr))
	}
	return nil
}
