// Package genai provides the OpenAI-backed conversation backend used to pilot
// the study without the avatar SDK.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for chat completions.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 400
)

var (
	// ErrNoChoicesReturned is returned when the API answers without any choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrMissingAPIKey is returned by NewClient when no API key is configured.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")
)

// chatService is the subset of the OpenAI SDK used by Client.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Models      map[string]string // roster LLM label -> model name
	Temperature float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model used for labels without an explicit mapping.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithModelMap maps roster LLM labels to model names.
func WithModelMap(m map[string]string) Option {
	return func(o *Opts) { o.Models = m }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode writes every request and response as JSON under stateDir/debug.
func WithDebugMode(stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = true
		o.StateDir = stateDir
	}
}

// DefaultModelMap assigns a model to each LLM label in the default roster.
func DefaultModelMap() map[string]string {
	return map[string]string{
		"LLM1": "gpt-4o-mini",
		"LLM2": "gpt-4o",
		"LLM3": "gpt-4.1-mini",
		"LLM4": "gpt-4.1-nano",
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	models      map[string]string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
}

// NewClient initializes a GenAI client. The API key comes from WithAPIKey or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Models:      DefaultModelMap(),
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client initialized", "model", cfg.Model, "labels", len(cfg.Models), "debug", cfg.DebugMode)
	return &Client{
		chat:        &cli.Chat.Completions,
		model:       cfg.Model,
		models:      cfg.Models,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// ModelFor returns the model name for a roster LLM label.
func (c *Client) ModelFor(label string) string {
	if m, ok := c.models[label]; ok && m != "" {
		return m
	}
	return c.model
}

// GenerateWithMessages sends a conversation to the model for a roster LLM
// label and returns the reply text.
func (c *Client) GenerateWithMessages(ctx context.Context, label string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	model := c.ModelFor(label)
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               model,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}
	start := time.Now()
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("GenAI.GenerateWithMessages: completion failed", "model", model, "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	c.writeDebugLog("GenerateWithMessages", model, params, resp)
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	slog.Debug("GenAI.GenerateWithMessages: completion received", "model", model, "messages", len(messages), "elapsed", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}

// writeDebugLog records a request/response pair when debug mode is on.
// Failures are logged and otherwise ignored.
func (c *Client) writeDebugLog(method, model string, params openai.ChatCompletionNewParams, resp *openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("GenAI: failed to create debug directory", "dir", dir, "error", err)
		return
	}
	now := time.Now()
	entry := map[string]interface{}{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     model,
		"params":    &params,
		"response":  resp,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI: failed to marshal debug log", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%d.json", method, now.UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("GenAI: failed to write debug log", "file", name, "error", err)
	}
}
