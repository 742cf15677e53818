package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/soyeahso/tally/internal/logging"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicClient reads receipts with a Claude vision model through the
// Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	log       *logging.Logger
}

// NewAnthropicClient creates a client. endpoint overrides the API base URL
// and is mostly useful for tests and proxies.
func NewAnthropicClient(apiKey, model, endpoint string, log *logging.Logger, opts ...option.RequestOption) *AnthropicClient {
	if model == "" {
		model = DefaultAnthropicModel
	}
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if endpoint != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(endpoint))
	}
	clientOpts = append(clientOpts, option.WithMaxRetries(0))
	clientOpts = append(clientOpts, opts...)

	return &AnthropicClient{
		client:    anthropic.NewClient(clientOpts...),
		model:     model,
		maxTokens: 2048,
		log:       log.Sub("analysis.anthropic"),
	}
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string { return "anthropic" }

// Analyze sends the image as a base64 block and parses the JSON reply.
func (c *AnthropicClient) Analyze(ctx context.Context, img Image) (*Result, error) {
	mt, data, err := encodeImage(c.Name(), img)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mt, data),
				anthropic.NewTextBlock(userPrompt),
			),
		},
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, sdkError(ctx, c.Name(), apiErr.StatusCode, err)
		}
		return nil, sdkError(ctx, c.Name(), 0, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	c.log.Debug().
		Str("model", c.model).
		Int64("inputTokens", resp.Usage.InputTokens).
		Int64("outputTokens", resp.Usage.OutputTokens).
		Dur("elapsed", time.Since(start)).
		Msg("receipt analyzed")

	return decodeVisionReply(c.Name(), text.String())
}
