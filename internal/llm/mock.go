package llm

import "context"

// MockClient implements Client and Embedder for testing.
type MockClient struct {
	AvailableFn func(ctx context.Context) bool
	ChatFn      func(ctx context.Context, prompt, model string) (string, error)
	GenerateFn  func(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	EmbedFn     func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockClient) Available(ctx context.Context) bool {
	if m.AvailableFn != nil {
		return m.AvailableFn(ctx)
	}
	return true
}

func (m *MockClient) Chat(ctx context.Context, prompt, model string) (string, error) {
	if m.ChatFn != nil {
		return m.ChatFn(ctx, prompt, model)
	}
	return "", nil
}

func (m *MockClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, prompt, opts)
	}
	return "", nil
}

func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}
