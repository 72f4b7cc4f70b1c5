package entitymem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix namespaces conversation keys.
const DefaultKeyPrefix = "bursar:conv:"

var _ Store = (*Redis)(nil)

// Redis stores partial requests as JSON strings with a TTL, so several API
// processes can share conversations.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a Redis store. A non-positive ttl uses DefaultTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: DefaultKeyPrefix, ttl: ttl}
}

// WithPrefix replaces the key prefix.
func (r *Redis) WithPrefix(prefix string) *Redis {
	r.prefix = prefix
	return r
}

func (r *Redis) key(conversationID string) string { return r.prefix + conversationID }

func (r *Redis) Get(ctx context.Context, conversationID string) (*Partial, error) {
	raw, err := r.client.Get(ctx, r.key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entitymem: get %s: %w", conversationID, err)
	}
	var p Partial
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("entitymem: decode %s: %w", conversationID, err)
	}
	return &p, nil
}

func (r *Redis) Set(ctx context.Context, conversationID string, p *Partial) error {
	c := p.Clone()
	c.UpdatedAt = time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(conversationID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("entitymem: set %s: %w", conversationID, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context, conversationID string) error {
	return r.client.Del(ctx, r.key(conversationID)).Err()
}

func (r *Redis) Has(ctx context.Context, conversationID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(conversationID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
