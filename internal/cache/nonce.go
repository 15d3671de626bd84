package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore remembers request nonces so a signed request cannot be replayed
// within the signature window.
type NonceStore struct {
	client *redis.Client
	prefix string
}

func NewNonceStore(client *redis.Client, prefix string) *NonceStore {
	if prefix == "" {
		prefix = "sig"
	}
	return &NonceStore{client: client, prefix: prefix}
}

// Claim records nonce for scope and reports whether it was unused.
func (s *NonceStore) Claim(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", s.prefix, scope, nonce)
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim nonce: %w", err)
	}
	return ok, nil
}
