package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/stashfind/internal/stash/domain"
)

const defaultProfilePrefix = "stashpoints:profile:"

// StoreProfileSource adapts a CapacityStore to the search path's
// ProfileSource contract without any caching.
type StoreProfileSource struct {
	store domain.CapacityStore
}

// NewStoreProfileSource wraps the authoritative store.
func NewStoreProfileSource(store domain.CapacityStore) *StoreProfileSource {
	return &StoreProfileSource{store: store}
}

// Profile fetches straight from the capacity store.
func (s *StoreProfileSource) Profile(ctx context.Context, pointID string, windowStart, windowEnd time.Time) (domain.CapacityProfile, error) {
	return s.store.GetCapacityProfile(ctx, pointID, windowStart, windowEnd)
}

// RedisProfileCache decorates a CapacityStore with a short-TTL Redis cache.
// The TTL must stay well under the booking granularity: the geo index may be
// minutes stale, capacity data must not be. Cache failures fall through to
// the authoritative store.
type RedisProfileCache struct {
	client    *redis.Client
	store     domain.CapacityStore
	ttl       time.Duration
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisProfileCache constructs the cache decorator.
func NewRedisProfileCache(client *redis.Client, store domain.CapacityStore, ttl time.Duration, logger *zap.Logger) *RedisProfileCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisProfileCache{
		client:    client,
		store:     store,
		ttl:       ttl,
		keyPrefix: defaultProfilePrefix,
		logger:    logger,
	}
}

// Profile serves from cache when possible, loading and caching on a miss.
// Keys are scoped to the query window so different windows never alias.
func (c *RedisProfileCache) Profile(ctx context.Context, pointID string, windowStart, windowEnd time.Time) (domain.CapacityProfile, error) {
	key := c.key(pointID, windowStart, windowEnd)

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var profile domain.CapacityProfile
		if err := json.Unmarshal(data, &profile); err == nil {
			return profile, nil
		}
		c.logger.Warn("dropping undecodable cached profile", zap.String("point_id", pointID))
	}

	profile, err := c.store.GetCapacityProfile(ctx, pointID, windowStart, windowEnd)
	if err != nil {
		return domain.CapacityProfile{}, err
	}

	if data, err := json.Marshal(profile); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("profile cache write failed", zap.String("point_id", pointID), zap.Error(err))
		}
	}
	return profile, nil
}

func (c *RedisProfileCache) key(pointID string, windowStart, windowEnd time.Time) string {
	return fmt.Sprintf("%s%s:%d:%d", c.keyPrefix, pointID, windowStart.UTC().Unix(), windowEnd.UTC().Unix())
}
