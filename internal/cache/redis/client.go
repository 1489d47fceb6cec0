// Package redis implements the engine's shared-state interfaces on go-redis/v9:
// the ask book cache, the signal bus used for progress and task events, the
// trade queue stream, distributed locks and the relay rate limiter.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultClientName = "fulcrumbot"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// ClientName tags connections in CLIENT LIST; defaults to "fulcrumbot".
	ClientName string
}

func (cfg ClientConfig) options() *redis.Options {
	name := cfg.ClientName
	if name == "" {
		name = defaultClientName
	}
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: name,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client owns the go-redis connection pool shared by every store in this
// package.
type Client struct {
	rdb *redis.Client
}

// New connects and verifies the server answers before returning.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(cfg.options())
	c := &Client{rdb: rdb}
	if err := c.Health(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

// Health pings the server; it backs the /api/health probe.
func (c *Client) Health(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
