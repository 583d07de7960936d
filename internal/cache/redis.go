// Package cache provides a tiny Redis client wrapper for caching predictions
// of identical images.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/SyedDaiam9101/firewatch/internal/detector"
)

const keyPrefix = "firewatch:prediction"

// Cache wraps a Redis client for prediction storage
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new Cache instance connected to the specified Redis address.
// The initial ping is retried with exponential backoff for up to maxWait.
func New(ctx context.Context, addr string, ttl, maxWait time.Duration) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // No password by default
		DB:       0,  // Default DB
	})

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait

	err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(b, ctx))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Key derives the cache key for an image within a detector's cache scope.
// Scores from different runtimes, model files or scoring options are kept
// apart.
func Key(scope string, image []byte) string {
	sum := sha256.Sum256(image)
	return fmt.Sprintf("%s:%s:%s", keyPrefix, scope, hex.EncodeToString(sum[:]))
}

// Get returns the cached prediction for key. A missing key is (nil, false, nil).
func (c *Cache) Get(ctx context.Context, key string) (*detector.Prediction, bool, error) {
	if c.client == nil {
		return nil, false, fmt.Errorf("cache client is nil")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil // Key does not exist
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get prediction %s: %w", key, err)
	}

	var p detector.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("corrupt cached prediction %s: %w", key, err)
	}
	return &p, true, nil
}

// Set stores a prediction under key with the cache TTL. Mocked predictions
// are never stored.
func (c *Cache) Set(ctx context.Context, key string, p *detector.Prediction) error {
	if c.client == nil {
		return fmt.Errorf("cache client is nil")
	}
	if p == nil || p.Mocked {
		return nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set prediction %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
