// Package openai provides LLM and image-generation adapters backed by
// the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

// defaultChatModel is used when neither the source config nor the call
// options name a model.
const defaultChatModel = "gpt-4o"

// defaultImageModel is used when no image model is configured.
const defaultImageModel = "dall-e-3"

// LLM implements adapter.LLM against OpenAI chat completions.
//
// The API key is resolved lazily from the environment variable named by
// config.api_key_env, so the adapter never holds key material between
// calls.
type LLM struct{}

// NewLLM creates an OpenAI chat adapter.
func NewLLM() *LLM { return &LLM{} }

// Complete implements adapter.LLM.
func (a *LLM) Complete(ctx context.Context, config map[string]any, prompt string, opts adapter.CompletionOptions) (adapter.Completion, error) {
	if ctx.Err() != nil {
		return adapter.Completion{}, ctx.Err()
	}

	apiKey, err := adapter.SecretFromEnv(configString(config, "api_key_env"))
	if err != nil {
		return adapter.Completion{}, err
	}

	model := opts.Model
	if model == "" {
		model = configString(config, "model")
	}
	if model == "" {
		model = defaultChatModel
	}

	var messages []openaisdk.ChatCompletionMessageParamUnion
	if opts.SystemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(model),
		Messages: messages,
	}
	if opts.Temperature > 0 {
		params.Temperature = openaisdk.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(opts.MaxTokens))
	}

	client := openaisdk.NewClient(option.WithAPIKey(apiKey))
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return adapter.Completion{}, translateError(err)
	}
	if len(resp.Choices) == 0 {
		return adapter.Completion{}, fmt.Errorf("%w: empty completion response", adapter.ErrUnavailable)
	}

	return adapter.Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

// Image implements adapter.Image against the OpenAI image API.
type Image struct{}

// NewImage creates an OpenAI image adapter.
func NewImage() *Image { return &Image{} }

// Generate implements adapter.Image.
func (a *Image) Generate(ctx context.Context, config map[string]any, prompt string, opts adapter.ImageOptions) (adapter.GeneratedImage, error) {
	if ctx.Err() != nil {
		return adapter.GeneratedImage{}, ctx.Err()
	}

	apiKey, err := adapter.SecretFromEnv(configString(config, "api_key_env"))
	if err != nil {
		return adapter.GeneratedImage{}, err
	}

	model := opts.Model
	if model == "" {
		model = configString(config, "model")
	}
	if model == "" {
		model = defaultImageModel
	}

	params := openaisdk.ImageGenerateParams{
		Prompt: prompt,
		Model:  openaisdk.ImageModel(model),
		N:      openaisdk.Int(1),
	}
	if opts.Size != "" {
		params.Size = openaisdk.ImageGenerateParamsSize(opts.Size)
	}

	client := openaisdk.NewClient(option.WithAPIKey(apiKey))
	resp, err := client.Images.Generate(ctx, params)
	if err != nil {
		return adapter.GeneratedImage{}, translateError(err)
	}
	if len(resp.Data) == 0 {
		return adapter.GeneratedImage{}, fmt.Errorf("%w: empty image response", adapter.ErrUnavailable)
	}

	return adapter.GeneratedImage{
		URL: resp.Data[0].URL,
		Metadata: map[string]any{
			"model":          model,
			"revised_prompt": resp.Data[0].RevisedPrompt,
		},
	}, nil
}

// translateError maps SDK failures onto the adapter error taxonomy.
// Authentication failures are credential problems; everything else is
// an availability problem, since rate limits are absorbed upstream by
// the queue gates.
func translateError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "401") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication") {
		return fmt.Errorf("%w: %v", adapter.ErrMissingCredential, err)
	}
	return fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
}

func configString(config map[string]any, key string) string {
	v, _ := config[key].(string)
	return v
}
