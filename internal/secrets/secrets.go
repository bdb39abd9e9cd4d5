// Package secrets reads and caches AWS Secrets Manager values for the
// database and model credentials.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rotisserie/eris"
)

// Provider retrieves secrets.
type Provider interface {
	GetSecret(ctx context.Context, secretARN string) (string, error)
	GetSecretJSON(ctx context.Context, secretARN string) (map[string]string, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client we use.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Cached is a Provider backed by Secrets Manager that keeps every value for
// the life of the process. Lambda containers are short-lived enough that
// rotation is picked up on the next cold start.
type Cached struct {
	client SecretsManagerAPI
	cache  map[string]string
	mu     sync.Mutex
}

// NewCached creates a Cached provider.
func NewCached(client SecretsManagerAPI) *Cached {
	return &Cached{
		client: client,
		cache:  make(map[string]string),
	}
}

func (s *Cached) GetSecret(ctx context.Context, secretARN string) (string, error) {
	s.mu.Lock()
	if v, ok := s.cache[secretARN]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", eris.Wrapf(err, "get secret %s", secretARN)
	}

	val := aws.ToString(out.SecretString)

	s.mu.Lock()
	s.cache[secretARN] = val
	s.mu.Unlock()

	return val, nil
}

// GetSecretJSON decodes a JSON object secret.
func (s *Cached) GetSecretJSON(ctx context.Context, secretARN string) (map[string]string, error) {
	raw, err := s.GetSecret(ctx, secretARN)
	if err != nil {
		return nil, err
	}
	return decodeJSON(raw)
}

// decodeJSON flattens a JSON object secret to strings. Non-string values
// (RDS secrets store the port as a number) are rendered with fmt.
func decodeJSON(raw string) (map[string]string, error) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, eris.Wrap(err, "parse secret JSON")
	}
	result := make(map[string]string, len(decoded))
	for k, v := range decoded {
		switch val := v.(type) {
		case string:
			result[k] = val
		case nil:
			result[k] = ""
		default:
			result[k] = fmt.Sprint(val)
		}
	}
	return result, nil
}

// Static is a Provider over fixed values (local runs and tests).
type Static map[string]string

func (s Static) GetSecret(_ context.Context, secretARN string) (string, error) {
	v, ok := s[secretARN]
	if !ok {
		return "", eris.Errorf("secret %s not found", secretARN)
	}
	return v, nil
}

func (s Static) GetSecretJSON(ctx context.Context, secretARN string) (map[string]string, error) {
	raw, err := s.GetSecret(ctx, secretARN)
	if err != nil {
		return nil, err
	}
	return decodeJSON(raw)
}
