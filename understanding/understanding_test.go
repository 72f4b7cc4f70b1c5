package understanding_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/understanding"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		intent   string
		entities map[string]string
	}{
		{
			name:     "plain",
			reply:    `{"intent":"record_payment","entities":{"amount":5000,"student":"Amina","method":"mpesa"},"confidence":{"amount":0.9}}`,
			intent:   "record_payment",
			entities: map[string]string{"amount": "5000", "student": "Amina", "method": "mpesa"},
		},
		{
			name:     "fenced with prose",
			reply:    "Sure!\n```json\n{\"intent\": \"Publish_Fee_Structure\", \"entities\": {\"structure_name\": \"Term 1 2025\", \"term\": null}}\n```",
			intent:   "publish_fee_structure",
			entities: map[string]string{"structure_name": "Term 1 2025"},
		},
		{
			name:     "booleans",
			reply:    `{"intent":"confirm_default","entities":{"answer":true}}`,
			intent:   "confirm_default",
			entities: map[string]string{"answer": "true"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := understanding.Parse(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.intent, res.Intent)
			assert.Equal(t, tt.entities, res.Entities)
		})
	}

	_, err := understanding.Parse("I cannot help with that")
	assert.Error(t, err)
}

func chatServer(t *testing.T, content string, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req struct {
			Model          string `json:"model"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral", req.Model)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		assert.Equal(t, "system", req.Messages[0].Role)

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenAIUnderstand(t *testing.T) {
	srv := chatServer(t, `{"intent":"generate_invoices","entities":{"year":"2025","term":"1"}}`, 0)
	c := understanding.NewOpenAI(understanding.Config{BaseURL: srv.URL + "/v1"}, quiet())

	res, err := c.Understand(context.Background(), "generate invoices for term 1 2025", []understanding.Turn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "Hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "generate_invoices", res.Intent)
	year, ok := res.Entity("year")
	assert.True(t, ok)
	assert.Equal(t, "2025", year)
	_, ok = res.Entity("amount")
	assert.False(t, ok)
}

func TestOpenAITimeout(t *testing.T) {
	srv := chatServer(t, `{"intent":"x"}`, time.Second)
	c := understanding.NewOpenAI(understanding.Config{BaseURL: srv.URL + "/v1", Timeout: 50 * time.Millisecond}, quiet())

	start := time.Now()
	_, err := c.Understand(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestNop(t *testing.T) {
	_, err := understanding.Nop{}.Understand(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, understanding.ErrUnavailable)
}
