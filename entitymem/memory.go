package entitymem

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize bounds the in-process store.
const DefaultSize = 10_000

var _ Store = (*Memory)(nil)

// Memory is an in-process Store. The least recently used conversation is
// evicted once size is reached.
type Memory struct {
	cache *lru.LRU[string, *Partial]
}

// NewMemory returns a Memory store. Non-positive arguments use DefaultSize
// and DefaultTTL.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{cache: lru.NewLRU[string, *Partial](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, conversationID string) (*Partial, error) {
	p, ok := m.cache.Get(conversationID)
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *Memory) Set(_ context.Context, conversationID string, p *Partial) error {
	c := p.Clone()
	c.UpdatedAt = time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	m.cache.Add(conversationID, c)
	return nil
}

func (m *Memory) Clear(_ context.Context, conversationID string) error {
	m.cache.Remove(conversationID)
	return nil
}

func (m *Memory) Has(_ context.Context, conversationID string) (bool, error) {
	return m.cache.Contains(conversationID), nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int { return m.cache.Len() }
