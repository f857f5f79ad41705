package redisclient

import (
	"context"
	"time"

	"github.com/AlfredDev/novagate/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps a redis.Client and exposes only the small surface the
// gateway needs: liveness, and a handful of string operations. main.go
// only calls Ping; no component mirrors session directives or quota
// state through this client.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed. It does not dial eagerly — callers
// should follow up with Ping to confirm reachability.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// SetEX stores a value with a TTL. No gateway component calls it.
func (r *Client) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

// Get returns the mirrored value, or ("", false, nil) if absent.
func (r *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Del removes a key. No gateway component calls it.
func (r *Client) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

// Raw exposes the underlying client for richer operations (e.g. HSet).
// No gateway component calls it.
func (r *Client) Raw() *redis.Client {
	return r.c
}
