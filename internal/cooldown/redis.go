package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps last-alert times in Redis so several engine instances
// share one view. Keys expire after the TTL, which should be at least the
// cooldown window.
type RedisStore struct {
	redis  *redis.Client
	source Source
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. source may be nil.
func NewRedisStore(client *redis.Client, source Source, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, source: source, ttl: ttl}
}

func redisKey(userID, location string) string {
	return fmt.Sprintf("aqi_cooldown:%s", Key{UserID: userID, Location: location})
}

// LastAlert implements Store
func (s *RedisStore) LastAlert(ctx context.Context, userID, location string) (time.Time, bool, error) {
	data, err := s.redis.Get(ctx, redisKey(userID, location)).Result()
	if err == redis.Nil {
		if s.source == nil {
			return time.Time{}, false, nil
		}
		at, found, err := s.source.LatestAlertAt(ctx, userID, location)
		if err != nil || !found {
			return at, found, err
		}
		// Backfill so the next sweep does not hit the database again.
		if err := s.Record(ctx, userID, location, at); err != nil {
			return time.Time{}, false, err
		}
		return at, true, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get cooldown from Redis: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, data)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse cooldown timestamp: %w", err)
	}
	return at, true, nil
}

// Record implements Store
func (s *RedisStore) Record(ctx context.Context, userID, location string, at time.Time) error {
	ttl := s.ttl - time.Since(at)
	if ttl <= 0 {
		return nil
	}
	value := at.UTC().Format(time.RFC3339Nano)
	if err := s.redis.Set(ctx, redisKey(userID, location), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cooldown in Redis: %w", err)
	}
	return nil
}
