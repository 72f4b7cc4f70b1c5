// Package entitymem keeps the partially filled request of each conversation
// between turns. Entries expire after a TTL so abandoned conversations do
// not accumulate.
package entitymem

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"
)

// DefaultTTL is how long an untouched partial request is kept.
const DefaultTTL = 30 * time.Minute

// ErrNotFound is returned by Get when the conversation has nothing pending.
var ErrNotFound = errors.New("entitymem: no pending request")

// Partial is an in-flight request. Request holds the typed request of
// Intent, encoded as JSON so every backend can store it.
type Partial struct {
	Intent    string          `json:"intent"`
	Request   json.RawMessage `json:"request"`
	Missing   []string        `json:"missing_fields"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals Request into v.
func (p *Partial) Decode(v any) error {
	if len(p.Request) == 0 {
		return nil
	}
	return json.Unmarshal(p.Request, v)
}

// Clone returns a deep copy.
func (p *Partial) Clone() *Partial {
	c := *p
	c.Request = slices.Clone(p.Request)
	c.Missing = slices.Clone(p.Missing)
	return &c
}

// NewPartial encodes req as the pending request for intent.
func NewPartial(intent string, req any, missing []string) (*Partial, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Partial{Intent: intent, Request: raw, Missing: missing, CreatedAt: now, UpdatedAt: now}, nil
}

// Store holds one Partial per conversation id. Callers serialize turns of
// the same conversation.
type Store interface {
	Get(ctx context.Context, conversationID string) (*Partial, error)
	Set(ctx context.Context, conversationID string, p *Partial) error
	Clear(ctx context.Context, conversationID string) error
	Has(ctx context.Context, conversationID string) (bool, error)
}
