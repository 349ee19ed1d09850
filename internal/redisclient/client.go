package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseLockScript deletes a lock key only when it still holds the caller's
// token, so an expired lock re-acquired by another capture is never released
// by the original holder.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

const catalogKey = "catalog:products"

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireLock takes a per-key mutual-exclusion lock with a TTL. Returns the
// holder token and whether the lock was acquired.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return token, ok, nil
}

// ReleaseLock releases a lock previously acquired with AcquireLock. Releasing
// with a stale token is a no-op.
func (c *Client) ReleaseLock(ctx context.Context, key, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", key)}, token).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// GetCachedProducts returns the cached catalog listing, reporting a miss
// when the key is absent or unreadable.
func (c *Client) GetCachedProducts(ctx context.Context) ([]models.Product, bool, error) {
	raw, err := c.rdb.Get(ctx, catalogKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []models.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		// stale/corrupt entry, treat as a miss
		_ = c.rdb.Del(ctx, catalogKey).Err()
		return nil, false, nil
	}
	return products, true, nil
}

// CacheProducts stores the catalog listing with a TTL
func (c *Client) CacheProducts(ctx context.Context, products []models.Product, ttl time.Duration) error {
	raw, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	return c.rdb.Set(ctx, catalogKey, raw, ttl).Err()
}

// InvalidateProducts drops the cached catalog listing
func (c *Client) InvalidateProducts(ctx context.Context) error {
	return c.rdb.Del(ctx, catalogKey).Err()
}
