// Package redis provides an atomic counter backed by a native Redis server.
package redis

import (
	"context"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Config represents Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Counter increments keys with INCR.
type Counter struct {
	client *goredis.Client
}

// New connects a Counter to the configured server.
func New(cfg Config) (*Counter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	return NewWithClient(goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})), nil
}

// NewWithClient wraps an existing client. Close closes it.
func NewWithClient(client *goredis.Client) *Counter {
	return &Counter{client: client}
}

// Incr atomically increments key and returns the new value.
func (c *Counter) Incr(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis INCR %s", key)
	}
	return v, nil
}

// Ping checks connectivity.
func (c *Counter) Ping(ctx context.Context) error {
	return errors.Wrap(c.client.Ping(ctx).Err(), "redis PING")
}

// Close releases the connection pool.
func (c *Counter) Close() error {
	return c.client.Close()
}
