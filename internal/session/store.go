package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "revoked:"

// RevocationStore records revoked token IDs in Redis until the token would have expired
type RevocationStore struct {
	redis *redis.Client
	now   func() time.Time
}

// NewRevocationStore creates a store on the given client
func NewRevocationStore(client *redis.Client) *RevocationStore {
	return &RevocationStore{redis: client, now: time.Now}
}

func (s *RevocationStore) key(tokenID string) string {
	return keyPrefix + tokenID
}

// Revoke marks tokenID revoked until until. It reports whether this call did the
// revoking, so a pending marker can be consumed exactly once.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		// already expired, nothing can present it again
		ttl = time.Second
	}
	ok, err := s.redis.SetNX(ctx, s.key(tokenID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return ok, nil
}

// IsRevoked reports whether tokenID has been revoked
func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := s.redis.Get(ctx, s.key(tokenID)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return true, nil
}

// Connect parses a redis URL, opens a client and pings it
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
