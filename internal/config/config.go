// Package config loads service settings from the environment and resolves
// credentials through Secrets Manager.
package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dylan-vpa/serambienteai-sub000/internal/db"
	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/secrets"
)

// Config is the settings shared by the Lambdas and the CLI.
type Config struct {
	Bucket   string
	QueueURL string

	DBHost      string
	DBPort      string
	DBName      string
	DBUser      string
	DBPassword  string
	DBSecretARN string
	DBMaxConns  int

	AISecretARN    string
	GeminiModel    string
	AnthropicModel string
	EmbeddingModel string
	AITimeout      time.Duration

	StuckAfter     time.Duration
	TemplatePrefix string
	MutoolPath     string
	SofficePath    string
	ChromePath     string
	LogLevel       string
}

// FromEnv reads the environment. Only malformed values are errors; missing
// ones take defaults.
func FromEnv() (Config, error) {
	c := Config{
		Bucket:         os.Getenv("BUCKET_NAME"),
		QueueURL:       os.Getenv("QUEUE_URL"),
		DBHost:         os.Getenv("DB_HOST"),
		DBPort:         envOrDefault("DB_PORT", "5432"),
		DBName:         envOrDefault("DB_NAME", "postgres"),
		DBUser:         envOrDefault("DB_USER", "postgres"),
		DBPassword:     envOrDefault("DB_PASSWORD", "postgres"),
		DBSecretARN:    os.Getenv("DB_SECRET_ARN"),
		AISecretARN:    os.Getenv("AI_SECRET_ARN"),
		GeminiModel:    envOrDefault("GEMINI_MODEL", llm.DefaultGeminiModel),
		AnthropicModel: envOrDefault("ANTHROPIC_MODEL", llm.DefaultClaudeModel),
		EmbeddingModel: envOrDefault("EMBEDDING_MODEL", llm.DefaultEmbeddingModel),
		TemplatePrefix: envOrDefault("TEMPLATE_PREFIX", "templates/"),
		MutoolPath:     os.Getenv("MUTOOL_PATH"),
		SofficePath:    os.Getenv("SOFFICE_PATH"),
		ChromePath:     os.Getenv("CHROME_PATH"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if c.AITimeout, err = durationEnv("AI_TIMEOUT", 90*time.Second); err != nil {
		return Config{}, err
	}
	if c.StuckAfter, err = durationEnv("STUCK_AFTER", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if c.DBMaxConns, err = intEnv("DB_MAX_CONNS", 2); err != nil {
		return Config{}, err
	}
	return c, nil
}

// DBCredentials returns the credentials callback for db.New: explicit
// DB_HOST settings win, otherwise the DB_SECRET_ARN secret is used.
func (c Config) DBCredentials(sp secrets.Provider) db.CredentialsFunc {
	return func(ctx context.Context) (map[string]string, error) {
		if c.DBHost != "" {
			return map[string]string{
				"host":     c.DBHost,
				"port":     c.DBPort,
				"dbname":   c.DBName,
				"username": c.DBUser,
				"password": c.DBPassword,
			}, nil
		}
		if c.DBSecretARN == "" {
			return nil, eris.New("neither DB_HOST nor DB_SECRET_ARN is set")
		}
		creds, err := sp.GetSecretJSON(ctx, c.DBSecretARN)
		if err != nil {
			return nil, eris.Wrap(err, "get db secret")
		}
		return creds, nil
	}
}

// LLM resolves model credentials: the AI_SECRET_ARN secret when set, then
// GEMINI_API_KEY / ANTHROPIC_API_KEY from the environment.
func (c Config) LLM(ctx context.Context, sp secrets.Provider) (llm.Config, error) {
	out := llm.Config{
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiModel:     c.GeminiModel,
		AnthropicModel:  c.AnthropicModel,
		EmbeddingModel:  c.EmbeddingModel,
		Timeout:         c.AITimeout,
	}
	if c.AISecretARN == "" {
		return out, nil
	}
	keys, err := sp.GetSecretJSON(ctx, c.AISecretARN)
	if err != nil {
		return out, eris.Wrap(err, "get ai secret")
	}
	if v := keys["GEMINI_API_KEY"]; v != "" {
		out.GeminiAPIKey = v
	}
	if v := keys["ANTHROPIC_API_KEY"]; v != "" {
		out.AnthropicAPIKey = v
	}
	return out, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare numbers are seconds
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			return 0, eris.Wrapf(err, "parse %s", key)
		}
		d = time.Duration(n) * time.Second
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, eris.Wrapf(err, "parse %s", key)
	}
	return n, nil
}
