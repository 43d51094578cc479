// Package oracle provides a pluggable interface for the language model that
// answers the lifecycle controller's prompts.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/rcliao/agent-memgit/internal/config"
	"github.com/rcliao/agent-memgit/internal/logging"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("oracle: empty response")

// Oracle completes a single prompt.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// --- OpenAI-compatible Provider ---

// OpenAI talks to any OpenAI-compatible chat completions API.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	log         zerolog.Logger
}

// NewOpenAI creates a provider from cfg. An empty BaseURL uses the public
// OpenAI endpoint.
func NewOpenAI(cfg config.OracleConfig, log zerolog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle: api key is required (set oracle.api_key or OPENAI_API_KEY)")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		log:         logging.Component(log, "oracle"),
	}, nil
}

// Complete sends prompt as a single user message and returns the first
// choice's text.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(o.temperature),
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxTokens))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	o.log.Debug().Str("model", o.model).Dur("took", time.Since(start)).
		Int64("tokens", resp.Usage.TotalTokens).Msg("completion")
	return content, nil
}

// --- Factory ---

// New creates the oracle named by cfg.Provider. It returns nil for "none";
// callers then take every fallback path.
func New(cfg config.OracleConfig, log zerolog.Logger) (Oracle, error) {
	switch cfg.Provider {
	case "openai":
		o, err := NewOpenAI(cfg, log)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("oracle: unknown provider %q", cfg.Provider)
	}
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
