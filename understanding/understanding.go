// Package understanding asks a language model to classify a chat message
// and pull out its parameters. The resolver treats every answer as a hint:
// failures and timeouts only mean it falls back to its own patterns.
package understanding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnavailable is returned when no model is configured.
var ErrUnavailable = errors.New("understanding: not configured")

// Result is the model's reading of one message.
type Result struct {
	Intent     string             `json:"intent"`
	Entities   map[string]string  `json:"entities"`
	Confidence map[string]float64 `json:"confidence"`
}

// Entity returns the trimmed value of field and whether it was present.
func (r *Result) Entity(field string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.Entities[field]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Turn is one earlier message of the conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Client classifies messages.
type Client interface {
	Understand(ctx context.Context, message string, history []Turn) (*Result, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, message string, history []Turn) (*Result, error)

func (f ClientFunc) Understand(ctx context.Context, message string, history []Turn) (*Result, error) {
	return f(ctx, message, history)
}

// Nop is a Client that is never available.
type Nop struct{}

func (Nop) Understand(context.Context, string, []Turn) (*Result, error) { return nil, ErrUnavailable }

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Parse decodes a model reply. Code fences and text around the JSON object
// are ignored, and scalar entity values of any JSON type become strings.
func Parse(text string) (*Result, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("understanding: no JSON object in reply")
	}

	var wire struct {
		Intent     string                     `json:"intent"`
		Entities   map[string]json.RawMessage `json:"entities"`
		Confidence map[string]float64         `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("understanding: decode reply: %w", err)
	}

	res := &Result{
		Intent:     strings.ToLower(strings.TrimSpace(wire.Intent)),
		Entities:   make(map[string]string, len(wire.Entities)),
		Confidence: wire.Confidence,
	}
	if res.Confidence == nil {
		res.Confidence = map[string]float64{}
	}
	for k, v := range wire.Entities {
		if s, ok := scalar(v); ok {
			res.Entities[k] = s
		}
	}
	return res, nil
}

func scalar(v json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), true
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return strconv.FormatBool(b), true
	}
	return "", false
}
