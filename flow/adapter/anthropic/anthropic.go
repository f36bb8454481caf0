// Package anthropic provides an LLM adapter backed by Anthropic's
// Claude API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

// defaultModel is used when neither the source config nor the call
// options name a model.
const defaultModel = "claude-3-5-sonnet-20241022"

// defaultMaxTokens bounds completions when the node does not set
// max_tokens; the Anthropic API requires an explicit value.
const defaultMaxTokens = 4096

// LLM implements adapter.LLM against the Anthropic messages API.
//
// The API key is resolved lazily from the environment variable named by
// config.api_key_env. Anthropic takes the system prompt as a separate
// parameter rather than a message role.
type LLM struct{}

// NewLLM creates an Anthropic chat adapter.
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
		model = defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(opts.Temperature)
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return adapter.Completion{}, translateError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(tb.Text)
		}
	}

	return adapter.Completion{
		Text:       text.String(),
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}, nil
}

func translateError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "authentication") || strings.Contains(msg, "401") {
		return fmt.Errorf("%w: %v", adapter.ErrMissingCredential, err)
	}
	return fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
}

func configString(config map[string]any, key string) string {
	v, _ := config[key].(string)
	return v
}
