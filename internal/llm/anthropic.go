package llm

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const (
	DefaultClaudeModel = "claude-sonnet-4-5"

	claudeMaxTokens int64 = 8192
)

// messages is the slice of the Anthropic SDK the Claude backend calls.
type messages interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Claude is the secondary backend.
type Claude struct {
	messages messages
	model    string
}

// NewClaude creates a Claude client using the provided API key.
func NewClaude(apiKey, model string) (*Claude, error) {
	if apiKey == "" {
		return nil, eris.Wrap(ErrUnavailable, "anthropic api key is empty")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newClaude(&client.Messages, model), nil
}

func newClaude(m messages, model string) *Claude {
	if model == "" {
		model = DefaultClaudeModel
	}
	return &Claude{messages: m, model: model}
}

// Available reports whether the backend is configured. The Messages API has
// no cheap probe; failed calls surface as errors and the Chain moves on.
func (c *Claude) Available(ctx context.Context) bool {
	return c != nil && c.messages != nil
}

func (c *Claude) Chat(ctx context.Context, prompt, model string) (string, error) {
	if model == "" || !strings.HasPrefix(model, "claude") {
		model = c.model
	}
	return c.create(ctx, model, prompt, GenerateOptions{})
}

func (c *Claude) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return c.create(ctx, c.model, prompt, opts)
}

func (c *Claude) create(ctx context.Context, model, prompt string, opts GenerateOptions) (string, error) {
	prompt = fitPrompt(prompt, opts.ContextWindow)
	if opts.Format == "json" {
		prompt += "\n\nRespond with a single JSON object and nothing else."
	}

	var blocks []anthropic.ContentBlockParamUnion
	for _, img := range opts.Images {
		encoded := base64.StdEncoding.EncodeToString(img.Data)
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MIMEType, encoded))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: claudeMaxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*opts.Temperature))
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "create message")
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
