// Package bedrock classifies transactions with models hosted on Amazon Bedrock,
// using the model-agnostic Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ArionMiles/upiledger/pkg/categorizer"
)

// DefaultModelID is used when no model is configured.
const DefaultModelID = "anthropic.claude-3-haiku-20240307-v1:0"

// ConverseAPI is the subset of *bedrockruntime.Client used by the classifier.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Classifier sends categorization prompts to a Bedrock model.
type Classifier struct {
	client  ConverseAPI
	modelID string
	logger  *slog.Logger
}

// New loads the default AWS configuration for region and creates a classifier.
func New(ctx context.Context, region, modelID string, logger *slog.Logger) (*Classifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	return NewWithClient(bedrockruntime.NewFromConfig(awsCfg), modelID, logger), nil
}

// NewWithClient creates a classifier around an existing Converse client.
func NewWithClient(client ConverseAPI, modelID string, logger *slog.Logger) *Classifier {
	if modelID == "" {
		modelID = DefaultModelID
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Classifier{
		client:  client,
		modelID: modelID,
		logger:  logger.With("component", "bedrock", "model", modelID),
	}
}

// Classify implements categorizer.Classifier.
func (c *Classifier) Classify(ctx context.Context, prompt string) (string, error) {
	out, err := c.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(16),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		if isThrottled(err) {
			return "", fmt.Errorf("bedrock converse: %w: %w", categorizer.ErrRateLimited, err)
		}
		return "", fmt.Errorf("bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock converse: response carries no message")
	}

	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}

	answer := strings.TrimSpace(b.String())
	c.logger.Debug("bedrock answered", "answer", answer)

	return answer, nil
}

func isThrottled(err error) bool {
	var throttling *types.ThrottlingException
	if errors.As(err, &throttling) {
		return true
	}
	var quota *types.ServiceQuotaExceededException
	return errors.As(err, &quota)
}
