package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Chain tries each backend in order and returns the first success.
type Chain []Client

// Available reports whether any backend is available.
func (c Chain) Available(ctx context.Context) bool {
	for _, b := range c {
		if b.Available(ctx) {
			return true
		}
	}
	return false
}

func (c Chain) Chat(ctx context.Context, prompt, model string) (string, error) {
	return c.each(ctx, func(b Client) (string, error) {
		return b.Chat(ctx, prompt, model)
	})
}

func (c Chain) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return c.each(ctx, func(b Client) (string, error) {
		return b.Generate(ctx, prompt, opts)
	})
}

func (c Chain) each(ctx context.Context, call func(Client) (string, error)) (string, error) {
	lastErr := error(ErrUnavailable)
	for _, b := range c {
		if !b.Available(ctx) {
			continue
		}
		out, err := call(b)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", eris.Wrap(lastErr, "all language model backends failed")
}

// timeoutClient bounds every call with its own deadline.
type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout wraps c so each call runs under a fresh deadline. A hung model
// call then surfaces as an error and callers take their fallback path.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{next: c, timeout: d}
}

func (t *timeoutClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Available(ctx)
}

func (t *timeoutClient) Chat(ctx context.Context, prompt, model string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Chat(ctx, prompt, model)
}

func (t *timeoutClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Generate(ctx, prompt, opts)
}

type timeoutEmbedder struct {
	next    Embedder
	timeout time.Duration
}

// WithEmbedTimeout is WithTimeout for an Embedder. A nil Embedder stays nil.
func WithEmbedTimeout(e Embedder, d time.Duration) Embedder {
	if e == nil || d <= 0 {
		return e
	}
	return &timeoutEmbedder{next: e, timeout: d}
}

func (t *timeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Embed(ctx, text)
}

// Unavailable is the Client used when no backend is configured.
type Unavailable struct{}

func (Unavailable) Available(context.Context) bool { return false }

func (Unavailable) Chat(context.Context, string, string) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Generate(context.Context, string, GenerateOptions) (string, error) {
	return "", ErrUnavailable
}
