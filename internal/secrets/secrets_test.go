package secrets

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var (
	_ Provider = (*Cached)(nil)
	_ Provider = Static(nil)
)

type mockSMClient struct {
	secrets   map[string]string
	callCount atomic.Int32
}

func (m *mockSMClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.callCount.Add(1)
	id := aws.ToString(params.SecretId)
	val, ok := m.secrets[id]
	if !ok {
		return nil, fmt.Errorf("secret %s not found", id)
	}
	return &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(val),
	}, nil
}

func TestCached_GetSecret(t *testing.T) {
	mock := &mockSMClient{secrets: map[string]string{"arn:test": "secret-value"}}
	provider := NewCached(mock)

	for i := 0; i < 3; i++ {
		val, err := provider.GetSecret(context.Background(), "arn:test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != "secret-value" {
			t.Errorf("val = %q", val)
		}
	}
	if mock.callCount.Load() != 1 {
		t.Errorf("expected 1 API call, got %d", mock.callCount.Load())
	}
}

func TestCached_ConcurrentReaders(t *testing.T) {
	mock := &mockSMClient{secrets: map[string]string{"arn:a": "x", "arn:b": "y"}}
	provider := NewCached(mock)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			arn := "arn:a"
			if i%2 == 1 {
				arn = "arn:b"
			}
			if _, err := provider.GetSecret(context.Background(), arn); err != nil {
				t.Errorf("GetSecret: %v", err)
			}
		}(i)
	}
	wg.Wait()
}

func TestCached_NotFound(t *testing.T) {
	provider := NewCached(&mockSMClient{secrets: map[string]string{}})
	if _, err := provider.GetSecret(context.Background(), "arn:missing"); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestCached_GetSecretJSON(t *testing.T) {
	mock := &mockSMClient{secrets: map[string]string{
		"arn:db": `{"host":"db.internal","port":5432,"username":"oit","password":"p","ssl":true,"extra":null}`,
	}}
	result, err := NewCached(mock).GetSecretJSON(context.Background(), "arn:db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"host": "db.internal", "port": "5432", "username": "oit", "password": "p", "ssl": "true", "extra": ""}
	for k, v := range want {
		if result[k] != v {
			t.Errorf("%s = %q, want %q", k, result[k], v)
		}
	}
}

func TestCached_GetSecretJSON_InvalidJSON(t *testing.T) {
	mock := &mockSMClient{secrets: map[string]string{"arn:bad": "not-json"}}
	if _, err := NewCached(mock).GetSecretJSON(context.Background(), "arn:bad"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestStatic(t *testing.T) {
	s := Static{"arn:ai": `{"GEMINI_API_KEY":"k"}`}
	got, err := s.GetSecretJSON(context.Background(), "arn:ai")
	if err != nil || got["GEMINI_API_KEY"] != "k" {
		t.Errorf("got %v, %v", got, err)
	}
	if _, err := s.GetSecret(context.Background(), "arn:none"); err == nil {
		t.Error("expected error")
	}
}

func TestStatic_NonStringValues(t *testing.T) {
	s := Static{"arn:db": `{"host":"db","port":5432,"ssl":true,"note":null}`}
	got, err := s.GetSecretJSON(context.Background(), "arn:db")
	if err != nil {
		t.Fatalf("GetSecretJSON: %v", err)
	}
	want := map[string]string{"host": "db", "port": "5432", "ssl": "true", "note": ""}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
