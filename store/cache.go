package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"presence-backend/models"
)

const DefaultCacheTTL = 10 * time.Minute

// CachedCheckIns fronts a CheckInStore with Redis. Only positive lookups are
// cached: a check-in never goes away once written, so a hit cannot go stale,
// while a miss may turn into a hit at any moment.
type CachedCheckIns struct {
	CheckInStore
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedCheckIns(next CheckInStore, rdb *redis.Client, ttl time.Duration) *CachedCheckIns {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedCheckIns{CheckInStore: next, rdb: rdb, ttl: ttl}
}

func cacheKey(userID, eventID string) string {
	return "checkin:" + userID + ":" + eventID
}

func (s *CachedCheckIns) GetCheckIn(ctx context.Context, userID, eventID string) (*models.CheckIn, error) {
	key := cacheKey(userID, eventID)

	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var c models.CheckIn
		if jsonErr := json.Unmarshal(raw, &c); jsonErr == nil {
			return &c, nil
		}
		log.Printf("Warning: dropping undecodable cache entry %s", key)
		s.rdb.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		log.Printf("Warning: check-in cache read failed: %v", err)
	}

	c, err := s.CheckInStore.GetCheckIn(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, c)
	return c, nil
}

func (s *CachedCheckIns) CreateCheckIn(ctx context.Context, c models.CheckIn) (*models.CheckIn, bool, error) {
	rec, created, err := s.CheckInStore.CreateCheckIn(ctx, c)
	if err != nil {
		return nil, false, err
	}
	s.put(ctx, rec)
	return rec, created, nil
}

func (s *CachedCheckIns) put(ctx context.Context, c *models.CheckIn) {
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, cacheKey(c.UserID, c.EventID), raw, s.ttl).Err(); err != nil {
		log.Printf("Warning: check-in cache write failed: %v", err)
	}
}
