// Package openai classifies transactions with OpenAI chat completion models.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ArionMiles/upiledger/pkg/categorizer"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = openai.GPT4oMini

const systemPrompt = "You categorize bank transactions. Respond with a single category name only."

// Config holds OpenAI client settings.
type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, for compatible gateways.
	BaseURL string
}

// Classifier sends categorization prompts to the chat completions API.
type Classifier struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// New creates an OpenAI classifier.
func New(cfg Config, logger *slog.Logger) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Classifier{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.With("component", "openai", "model", cfg.Model),
	}, nil
}

// Classify implements categorizer.Classifier.
func (c *Classifier) Classify(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 16,
	})
	if err != nil {
		if isRateLimited(err) {
			return "", fmt.Errorf("openai chat completion: %w: %w", categorizer.ErrRateLimited, err)
		}
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion: no choices returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("openai answered", "answer", text)

	return text, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
