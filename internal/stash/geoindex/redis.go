package geoindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/stashfind/internal/stash/domain"
)

const (
	defaultGeoKey  = "stashpoints:geo"
	defaultMetaKey = "stashpoints:meta"
)

// RedisIndex implements domain.GeoIndex on a Redis GEO set plus a metadata
// hash carrying the static fields per point. Upserts and removals are
// per-point idempotent commands, so a sync run interrupted halfway leaves
// every already-processed point intact.
type RedisIndex struct {
	client  *redis.Client
	geoKey  string
	metaKey string
}

// NewRedisIndex constructs a Redis-backed geo index.
func NewRedisIndex(client *redis.Client, keyPrefix string) *RedisIndex {
	geoKey, metaKey := defaultGeoKey, defaultMetaKey
	if keyPrefix != "" {
		geoKey = keyPrefix + ":geo"
		metaKey = keyPrefix + ":meta"
	}
	return &RedisIndex{client: client, geoKey: geoKey, metaKey: metaKey}
}

// Upsert writes every entry's coordinate into the GEO set and its static
// fields into the metadata hash.
func (r *RedisIndex) Upsert(ctx context.Context, entries []domain.GeoIndexEntry) error {
	for _, e := range entries {
		if err := e.Location.Validate(); err != nil {
			return err
		}
	}
	if len(entries) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			payload, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal entry %s: %w", e.PointID, err)
			}
			pipe.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
				Name:      e.PointID,
				Longitude: e.Location.Lng,
				Latitude:  e.Location.Lat,
			})
			pipe.HSet(ctx, r.metaKey, e.PointID, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis geo upsert: %w", err)
	}
	return nil
}

// RemoveMissing prunes every indexed point absent from currentIDs.
func (r *RedisIndex) RemoveMissing(ctx context.Context, currentIDs map[string]struct{}) error {
	members, err := r.client.ZRange(ctx, r.geoKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis zrange: %w", err)
	}

	var stale []string
	for _, member := range members {
		if _, ok := currentIDs[member]; !ok {
			stale = append(stale, member)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.geoKey, staleArgs(stale)...)
		pipe.HDel(ctx, r.metaKey, stale...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis geo remove: %w", err)
	}
	return nil
}

// Query runs GEOSEARCH and hydrates entries from the metadata hash. Members
// whose metadata is missing (a sync writing concurrently) are skipped.
func (r *RedisIndex) Query(ctx context.Context, center domain.GeoPoint, radiusKM float64) ([]domain.GeoIndexEntry, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radiusKM <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	members, err := r.client.GeoSearch(ctx, r.geoKey, &redis.GeoSearchQuery{
		Longitude:  center.Lng,
		Latitude:   center.Lat,
		Radius:     radiusKM,
		RadiusUnit: "km",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geosearch: %w", err)
	}
	if len(members) == 0 {
		return []domain.GeoIndexEntry{}, nil
	}

	payloads, err := r.client.HMGet(ctx, r.metaKey, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}

	entries := make([]domain.GeoIndexEntry, 0, len(members))
	for _, payload := range payloads {
		raw, ok := payload.(string)
		if !ok {
			continue
		}
		var entry domain.GeoIndexEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func staleArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}
