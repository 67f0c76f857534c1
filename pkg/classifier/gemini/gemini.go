// Package gemini classifies transactions with Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/ArionMiles/upiledger/pkg/categorizer"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

// generator is the subset of *genai.Models used by the classifier.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Classifier sends categorization prompts to the Gemini API.
type Classifier struct {
	models generator
	model  string
	logger *slog.Logger
}

// New creates a Gemini classifier authenticated with apiKey.
func New(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Classifier, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return newClassifier(client.Models, model, logger), nil
}

func newClassifier(models generator, model string, logger *slog.Logger) *Classifier {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Classifier{
		models: models,
		model:  model,
		logger: logger.With("component", "gemini", "model", model),
	}
}

// Classify implements categorizer.Classifier. Quota and rate limit rejections
// are reported as categorizer.ErrRateLimited.
func (c *Classifier) Classify(ctx context.Context, prompt string) (string, error) {
	temperature := float32(0)
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: &temperature,
	})
	if err != nil {
		if isRateLimited(err) {
			return "", fmt.Errorf("gemini generate content: %w: %w", categorizer.ErrRateLimited, err)
		}
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	c.logger.Debug("gemini answered", "answer", text)

	return text, nil
}

func isRateLimited(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code == http.StatusTooManyRequests || apiErrPtr.Status == "RESOURCE_EXHAUSTED"
	}
	return false
}
