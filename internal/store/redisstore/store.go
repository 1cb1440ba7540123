package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	client *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func ideaSummaryKey(ideaID uint64) string {
	return fmt.Sprintf("idea:summary:%d", ideaID)
}

// GetIdeaSummary returns (summary, found, error); a missing key is not an error.
func (s *Store) GetIdeaSummary(ctx context.Context, ideaID uint64) (string, bool, error) {
	v, err := s.client.Get(ctx, ideaSummaryKey(ideaID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetIdeaSummary(ctx context.Context, ideaID uint64, summary string, ttl time.Duration) error {
	return s.client.Set(ctx, ideaSummaryKey(ideaID), summary, ttl).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
