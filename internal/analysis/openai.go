package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/soyeahso/tally/internal/logging"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient reads receipts through the Chat Completions API. It works
// with any OpenAI-compatible endpoint that accepts image content parts.
type OpenAIClient struct {
	client openai.Client
	model  string
	log    *logging.Logger
}

// NewOpenAIClient creates a client. endpoint overrides the API base URL.
func NewOpenAIClient(apiKey, model, endpoint string, log *logging.Logger, opts ...option.RequestOption) *OpenAIClient {
	if model == "" {
		model = DefaultOpenAIModel
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

	return &OpenAIClient{
		client: openai.NewClient(clientOpts...),
		model:  model,
		log:    log.Sub("analysis.openai"),
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return "openai" }

// Analyze sends the image as a data URL content part.
func (c *OpenAIClient) Analyze(ctx context.Context, img Image) (*Result, error) {
	mt, data, err := encodeImage(c.Name(), img)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(userPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: "data:" + mt + ";base64," + data,
				}),
			}),
		},
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, sdkError(ctx, c.Name(), apiErr.StatusCode, err)
		}
		return nil, sdkError(ctx, c.Name(), 0, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: Malformed, Provider: c.Name(), Err: errors.New("no choices in response")}
	}

	c.log.Debug().
		Str("model", c.model).
		Int64("promptTokens", resp.Usage.PromptTokens).
		Int64("completionTokens", resp.Usage.CompletionTokens).
		Dur("elapsed", time.Since(start)).
		Msg("receipt analyzed")

	return decodeVisionReply(c.Name(), resp.Choices[0].Message.Content)
}
