package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"blackbird-libvirtd/internal/model"
)

// RedisClient appends JSON records to a Redis list, optionally capped at maxLen
// entries (oldest entries are trimmed).
type RedisClient struct {
	logger *slog.Logger
	client *redis.Client
	key    string
	maxLen int64
}

func NewRedisClient(rawURL string, tlsCfg *tls.Config, key string, maxLen int64, logger *slog.Logger) (*RedisClient, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if tlsCfg != nil && opts.TLSConfig == nil {
		opts.TLSConfig = tlsCfg
	}
	return &RedisClient{logger: logger, client: redis.NewClient(opts), key: key, maxLen: maxLen}, nil
}

func (c *RedisClient) SendRecords(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]any, 0, len(records))
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", r.Key, err)
		}
		values = append(values, b)
	}

	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, c.key, values...)
	if c.maxLen > 0 {
		pipe.LTrim(ctx, c.key, -c.maxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push %s: %w", c.key, err)
	}
	c.logger.Debug("records pushed to redis", "key", c.key, "records", len(records))
	return nil
}

func (c *RedisClient) Close(_ context.Context) error {
	return c.client.Close()
}
