package llm

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

const (
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultEmbeddingModel = "gemini-embedding-001"

	// probeTTL bounds how long an availability answer is reused.
	probeTTL = time.Minute
)

// models is the slice of genai.Models the Gemini backend calls. It lets tests
// drive the backend without the network.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// Gemini is the primary backend. It also serves embeddings and page OCR.
type Gemini struct {
	models         models
	model          string
	embeddingModel string

	mu        sync.Mutex
	probedAt  time.Time
	available bool
	now       func() time.Time
}

// NewGemini creates a Gemini client using the provided API key.
func NewGemini(ctx context.Context, apiKey, model, embeddingModel string) (*Gemini, error) {
	if apiKey == "" {
		return nil, eris.Wrap(ErrUnavailable, "gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "create genai client")
	}
	return newGemini(client.Models, model, embeddingModel), nil
}

func newGemini(m models, model, embeddingModel string) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	return &Gemini{models: m, model: model, embeddingModel: embeddingModel, now: time.Now}
}

// Available fetches the configured model's metadata, caching the answer.
func (g *Gemini) Available(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.probedAt.IsZero() && g.now().Sub(g.probedAt) < probeTTL {
		return g.available
	}
	_, err := g.models.Get(ctx, g.model, nil)
	g.available = err == nil
	g.probedAt = g.now()
	return g.available
}

func (g *Gemini) Chat(ctx context.Context, prompt, model string) (string, error) {
	if model == "" {
		model = g.model
	}
	return g.generate(ctx, model, prompt, GenerateOptions{})
}

func (g *Gemini) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return g.generate(ctx, g.model, prompt, opts)
}

func (g *Gemini) generate(ctx context.Context, model, prompt string, opts GenerateOptions) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(fitPrompt(prompt, opts.ContextWindow))}
	for _, img := range opts.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}

	config := &genai.GenerateContentConfig{}
	if opts.Temperature != nil {
		config.Temperature = genai.Ptr(*opts.Temperature)
	}
	if opts.Format == "json" {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := g.models.GenerateContent(ctx, model, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, config)
	if err != nil {
		g.markUnavailable()
		return "", eris.Wrap(err, "generate content")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var text string
	for _, p := range resp.Candidates[0].Content.Parts {
		text += p.Text
	}
	return text, nil
}

// Embed returns the embedding of text with the configured embedding model.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.models.EmbedContent(ctx, g.embeddingModel, []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}, nil)
	if err != nil {
		return nil, eris.Wrap(err, "embed content")
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, eris.New("empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}

// markUnavailable invalidates a cached positive probe after a failed call so
// the next stage goes straight to its fallback.
func (g *Gemini) markUnavailable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.available = false
	g.probedAt = g.now()
}
