package redis

import (
	"context"

	"github.com/go-redis/redis/v8"

	"agent-workflow-engine/internal/config"
)

// Client wraps a go-redis client and keeps the raw handle private so the
// rest of the codebase goes through Client / Bus methods.
type Client struct {
	cli *redis.Client
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{cli: c}, nil
}

// NewClientFromAddr builds a client against a bare address. Used by tests
// that spin up an in-process redis.
func NewClientFromAddr(ctx context.Context, addr string) (*Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{cli: c}, nil
}

func (c *Client) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *Client) Close() error { return c.cli.Close() }
