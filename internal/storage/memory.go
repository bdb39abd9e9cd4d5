package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNoSuchKey is returned by Memory.Get for a missing key.
var ErrNoSuchKey = eris.New("no such key")

// Memory is an in-process Bucket used by tests and local runs.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemory returns an empty Memory bucket.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *Memory) PresignPut(_ context.Context, key, _ string, expires time.Duration) (string, error) {
	return fmt.Sprintf("memory://put/%s?expires=%d", key, int(expires.Seconds())), nil
}

func (m *Memory) PresignGet(_ context.Context, key string, expires time.Duration) (string, error) {
	return fmt.Sprintf("memory://get/%s?expires=%d", key, int(expires.Seconds())), nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, eris.Wrapf(ErrNoSuchKey, "get object %s", key)
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Put(_ context.Context, key, contentType string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	m.types[key] = contentType
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ContentTypeOf returns the content type a key was stored with.
func (m *Memory) ContentTypeOf(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[key]
}
