package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DedupStore keeps dedup markers in Redis. Claims use SET key 1 NX EX ttl.
type DedupStore struct {
	client *goredis.Client
	prefix string
}

// NewDedupStore wraps an existing client. prefix is prepended to every key.
func NewDedupStore(client *goredis.Client, prefix string) (*DedupStore, error) {
	if client == nil {
		return nil, errors.New("redis dedup: nil client")
	}
	return &DedupStore{client: client, prefix: prefix}, nil
}

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis dedup: parse url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis dedup: ping: %w", err)
	}
	return client, nil
}

// Exists reports whether key holds a marker.
func (s *DedupStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetNX writes key with ttl when absent.
func (s *DedupStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, "1", ttl).Result()
}
