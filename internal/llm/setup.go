package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Config selects and configures the backends.
type Config struct {
	GeminiAPIKey    string
	GeminiModel     string
	EmbeddingModel  string
	AnthropicAPIKey string
	AnthropicModel  string
	Timeout         time.Duration
}

// New builds the backend chain: Gemini first, Claude second, each call
// (embeddings included) bounded by cfg.Timeout. The Embedder is nil when Gemini is not configured. With no
// backend at all the returned Client is Unavailable, which sends every stage
// down its heuristic path.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Client, Embedder) {
	var (
		chain    Chain
		embedder Embedder
	)
	if cfg.GeminiAPIKey != "" {
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.EmbeddingModel)
		if err != nil {
			logger.Warn("gemini backend disabled", zap.Error(err))
		} else {
			chain = append(chain, g)
			embedder = g
		}
	}
	if cfg.AnthropicAPIKey != "" {
		c, err := NewClaude(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		if err != nil {
			logger.Warn("claude backend disabled", zap.Error(err))
		} else {
			chain = append(chain, c)
		}
	}
	if len(chain) == 0 {
		logger.Warn("no language model configured; heuristic fallbacks only")
		return Unavailable{}, nil
	}
	return WithTimeout(chain, cfg.Timeout), WithEmbedTimeout(embedder, cfg.Timeout)
}
