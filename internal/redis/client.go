package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openclaw/walletbridge-go/internal/config"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.RedisPingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// EventChannel is the pub/sub channel the chat bot subscribes to for a
// given user's wallet events.
func EventChannel(userID string) string {
	return fmt.Sprintf("wallet-events:%s", userID)
}
