// Package llm is the language model boundary: a small Client interface with
// Gemini and Claude backends, a fallback chain, per-call timeouts and the JSON
// cleanup helpers every stage uses on model output.
package llm

import (
	"context"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// ErrUnavailable is returned by backends that are not configured or did not
// pass the availability probe.
var ErrUnavailable = eris.New("language model unavailable")

// Client defines operations for talking to a language model.
type Client interface {
	// Available probes the backend. Stages use it to choose between the model
	// and their heuristic fallback.
	Available(ctx context.Context) bool
	// Chat sends a single user prompt. An empty model selects the default.
	Chat(ctx context.Context, prompt, model string) (string, error)
	// Generate sends a prompt with generation options.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Embedder produces text embeddings for similarity ranking.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Image is an inline image attached to a Generate call.
type Image struct {
	Data     []byte
	MIMEType string
}

// GenerateOptions holds configuration for a Generate call.
type GenerateOptions struct {
	// Format "json" asks the backend for a JSON response.
	Format      string
	Temperature *float32
	// ContextWindow caps the prompt in tokens; zero leaves it untouched.
	ContextWindow int
	Images        []Image
}

// charsPerToken is the rough ratio used to turn a token budget into a
// character budget.
const charsPerToken = 4

func fitPrompt(prompt string, window int) string {
	if window <= 0 {
		return prompt
	}
	limit := window * charsPerToken
	if len(prompt) <= limit {
		return prompt
	}
	return truncateUTF8(prompt, limit)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Temp returns a pointer to t for GenerateOptions.Temperature.
func Temp(t float32) *float32 {
	return &t
}

// JSON is the common strict-JSON option set.
func JSON(temperature float32) GenerateOptions {
	return GenerateOptions{Format: "json", Temperature: Temp(temperature)}
}
