package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps Redis for the best-effort fast paths: a duplicate-event
// pre-filter and a cached on-hand read. Postgres stays authoritative for
// both; any Redis failure degrades to the database path.
type Client struct {
	rdb *redis.Client
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

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// MarkEventSeen records a fully-processed event ID with a TTL. Returns
// true when this call was the first to record it.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("webhook:event:%s", eventID), "1", ttl).Result()
}

// EventSeen reports whether the event ID was already recorded as
// processed. Only a pre-filter: the unique constraint on webhook_events
// decides for real, and entries are written after processing completes.
func (c *Client) EventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("webhook:event:%s", eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CacheOnHand stores the derived on-hand quantity for a variant.
func (c *Client) CacheOnHand(ctx context.Context, variantID int64, onHand int, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("inventory:onhand:%d", variantID), onHand, ttl).Err()
}

// GetOnHand reads the cached on-hand quantity. found=false on a miss.
func (c *Client) GetOnHand(ctx context.Context, variantID int64) (int, bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("inventory:onhand:%d", variantID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	onHand, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, err
	}
	return onHand, true, nil
}

// InvalidateOnHand drops the cached quantity after a ledger write.
func (c *Client) InvalidateOnHand(ctx context.Context, variantID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("inventory:onhand:%d", variantID)).Err()
}
