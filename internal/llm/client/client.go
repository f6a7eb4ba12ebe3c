package client

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"chatvault/internal/models"
)

// LLMClient wraps one provider-specific chat model behind a uniform
// streaming surface.
type LLMClient struct {
	chatModel model.BaseChatModel
	provider  string
}

// Options carries the model name and generation parameters applied at
// construction time.
type Options struct {
	Model  string
	Params models.ModelSettings
}

func NewOpenAIClient(ctx context.Context, key string, opts Options) (*LLMClient, error) {
	cfg := &openai.ChatModelConfig{
		APIKey:      key,
		Model:       opts.Model,
		Temperature: ptr(opts.Params.Temperature),
		TopP:        ptr(opts.Params.TopP),
	}
	if opts.Params.MaxTokens > 0 {
		cfg.MaxTokens = ptr(opts.Params.MaxTokens)
	}
	if opts.Params.PresencePenalty != 0 {
		cfg.PresencePenalty = ptr(opts.Params.PresencePenalty)
	}
	if opts.Params.FrequencyPenalty != 0 {
		cfg.FrequencyPenalty = ptr(opts.Params.FrequencyPenalty)
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create openai chat model: %w", err)
	}
	return &LLMClient{chatModel: chatModel, provider: "openai"}, nil
}

func NewClaudeClient(ctx context.Context, key string, opts Options) (*LLMClient, error) {
	maxTokens := opts.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	cfg := &claude.Config{
		APIKey:      key,
		Model:       opts.Model,
		MaxTokens:   maxTokens,
		Temperature: ptr(opts.Params.Temperature),
		TopP:        ptr(opts.Params.TopP),
	}
	if opts.Params.TopK > 0 {
		cfg.TopK = ptr(opts.Params.TopK)
	}

	chatModel, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create claude chat model: %w", err)
	}
	return &LLMClient{chatModel: chatModel, provider: "anthropic"}, nil
}

func NewGeminiClient(ctx context.Context, key string, opts Options) (*LLMClient, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:         genaiClient,
		Model:          opts.Model,
		SafetySettings: safetySettings(opts.Params.SafetyThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini chat model: %w", err)
	}
	return &LLMClient{chatModel: chatModel, provider: "gemini"}, nil
}

func (c *LLMClient) Provider() string {
	return c.provider
}

// Stream starts a streamed completion over the given history.
func (c *LLMClient) Stream(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	reader, err := c.chatModel.Stream(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("start %s stream: %w", c.provider, err)
	}
	return reader, nil
}

var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

func safetySettings(threshold string) []*genai.SafetySetting {
	var block genai.HarmBlockThreshold
	switch threshold {
	case "block_none":
		block = genai.HarmBlockThresholdBlockNone
	case "block_low":
		block = genai.HarmBlockThresholdBlockLowAndAbove
	case "block_high":
		block = genai.HarmBlockThresholdBlockOnlyHigh
	default:
		block = genai.HarmBlockThresholdBlockMediumAndAbove
	}

	settings := make([]*genai.SafetySetting, 0, len(harmCategories))
	for _, category := range harmCategories {
		settings = append(settings, &genai.SafetySetting{
			Category:  category,
			Threshold: block,
		})
	}
	return settings
}

func ptr[T any](v T) *T {
	return &v
}
