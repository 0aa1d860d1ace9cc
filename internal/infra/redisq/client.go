package redisq

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"shortsq/internal/config"
)

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client
}

func New(cfg config.Redis) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	log.Info().Msgf("connecting to redis at %s", opts.Addr)
	return &Client{Cfg: cfg, Rdb: redis.NewClient(opts)}, nil
}

// Connect verifies the server is reachable.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

func (c *Client) Close() error {
	return c.Rdb.Close()
}
