// Package oddscache keeps recently fetched odds snapshots in Redis so the
// scan and monitor loops do not hit the odds API twice for the same event.
package oddscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/models"
)

// DefaultTTL is used when no positive TTL is configured.
const DefaultTTL = 2 * time.Minute

const keyPrefix = "courtedge:odds:"

// RedisCache stores odds snapshots as JSON values with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache over an existing Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Dial builds a Redis client for addr with short timeouts. The connection is
// not checked here; every cache error is treated as a miss.
func Dial(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		MaxRetries:   -1,
	})
}

func key(eventID string) string {
	return keyPrefix + eventID
}

// Get returns the cached snapshot for eventID, if any.
func (c *RedisCache) Get(ctx context.Context, eventID string) (*models.OddsSnapshot, bool) {
	data, err := c.client.Get(ctx, key(eventID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Debug("Odds cache get %s: %v", eventID, err)
		}
		return nil, false
	}

	var snap models.OddsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Debug("Odds cache entry %s corrupt: %v", eventID, err)
		return nil, false
	}
	return &snap, true
}

// Set stores snap under its event id.
func (c *RedisCache) Set(ctx context.Context, snap *models.OddsSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		logger.Debug("Odds cache marshal %s: %v", snap.EventID, err)
		return
	}
	if err := c.client.Set(ctx, key(snap.EventID), data, c.ttl).Err(); err != nil {
		logger.Debug("Odds cache set %s: %v", snap.EventID, err)
	}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (*models.OddsSnapshot, bool) { return nil, false }
func (Noop) Set(context.Context, *models.OddsSnapshot)                {}
