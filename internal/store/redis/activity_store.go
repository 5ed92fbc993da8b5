package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/wolfeidau/firmguard/internal/store"
)

// ActivityStore implements store.ActivityStore on Redis using SET with EX.
type ActivityStore struct {
	client goredis.UniversalClient
	prefix string
}

var _ store.ActivityStore = (*ActivityStore)(nil)

// NewActivityStore creates a Redis-backed activity store. All keys are
// namespaced with prefix.
func NewActivityStore(client goredis.UniversalClient, prefix string) *ActivityStore {
	return &ActivityStore{client: client, prefix: prefix}
}

func (s *ActivityStore) key(k string) string {
	return s.prefix + k
}

func (s *ActivityStore) Get(ctx context.Context, key string) (int64, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get activity: %w", err)
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid activity value %q: %w", raw, err)
	}
	return value, true, nil
}

func (s *ActivityStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), strconv.FormatInt(value, 10), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set activity: %w", err)
	}
	return nil
}

func (s *ActivityStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	return nil
}
