// Package google provides an LLM adapter backed by Google's Gemini
// API.
package google

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

// defaultModel is used when neither the source config nor the call
// options name a model.
const defaultModel = "gemini-1.5-flash"

// LLM implements adapter.LLM against the Gemini generateContent API.
//
// The API key is resolved lazily from the environment variable named by
// config.api_key_env.
type LLM struct{}

// NewLLM creates a Gemini chat adapter.
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

	modelName := opts.Model
	if modelName == "" {
		modelName = configString(config, "model")
	}
	if modelName == "" {
		modelName = defaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return adapter.Completion{}, fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
	}
	defer client.Close()

	model := client.GenerativeModel(modelName)
	if opts.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(opts.SystemPrompt)},
		}
	}
	if opts.Temperature > 0 {
		model.SetTemperature(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return adapter.Completion{}, translateError(err)
	}

	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	var tokens int
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return adapter.Completion{Text: text.String(), TokensUsed: tokens}, nil
}

func translateError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "api key") || strings.Contains(msg, "401") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", adapter.ErrMissingCredential, err)
	}
	return fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
}

func configString(config map[string]any, key string) string {
	v, _ := config[key].(string)
	return v
}
