package understanding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Defaults for an Ollama server running Mistral.
const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "mistral"
	DefaultTimeout = 15 * time.Second
	maxHistory     = 6
)

// Config configures the OpenAI-compatible client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float32
	Intents     []string // labels the model may answer with
}

// OpenAI talks to any OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAI builds a client from cfg, filling unset fields with defaults.
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if logger == nil {
		logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{client: openai.NewClientWithConfig(oc), cfg: cfg, logger: logger}
}

// Understand sends message with up to the last six turns of history. The
// call is bounded by the configured timeout and never retried.
func (c *OpenAI) Understand(ctx context.Context, message string, history []Turn) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt()}}
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages:    msgs,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("understanding: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("understanding: empty completion")
	}

	res, err := Parse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("message understood",
		"intent", res.Intent,
		"entities", len(res.Entities),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (c *OpenAI) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You read messages sent to a school bursar's assistant and reply with one JSON object only.\n")
	b.WriteString(`Shape: {"intent": "<label>", "entities": {"<field>": "<value>"}, "confidence": {"<field>": 0.0-1.0}}` + "\n")
	if len(c.cfg.Intents) > 0 {
		b.WriteString("Allowed intents: " + strings.Join(c.cfg.Intents, ", ") + ", unknown.\n")
	}
	b.WriteString("Fields: year (4 digits), term (1-3), structure_name, level, item_name, amount (number, no currency), ")
	b.WriteString("category (TUITION, COCURRICULAR, OTHER), class, student, method (CASH, BANK, MPESA), ")
	b.WriteString("reference, invoice_id, status, reason, answer (yes or no).\n")
	b.WriteString("Leave out fields the message does not mention. Never invent values.")
	return b.String()
}
