package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/notify"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/queue"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

var testNow = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

// plainExtractor returns file bytes as text.
type plainExtractor struct {
	extractFn func(ctx context.Context, data []byte, mimeType string) string
}

func (e *plainExtractor) ExtractText(ctx context.Context, data []byte, mimeType string) string {
	if e.extractFn != nil {
		return e.extractFn(ctx, data, mimeType)
	}
	return string(data)
}

type fakeReports struct {
	mu         sync.Mutex
	generateFn func(ctx context.Context, orderID string, format report.Format, userID string) (string, error)
	calls      []report.Format
}

func (f *fakeReports) Generate(ctx context.Context, orderID string, format report.Format, userID string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, format)
	f.mu.Unlock()
	if f.generateFn != nil {
		return f.generateFn(ctx, orderID, format, userID)
	}
	return "orders/" + orderID + "/reports/informe." + string(format), nil
}

type fixture struct {
	store   *store.MemStore
	bucket  *storage.Memory
	model   *llm.MockClient
	sent    *notify.Recorder
	jobs    *queue.Recorder
	reports *fakeReports
	p       *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemStore(),
		bucket:  storage.NewMemory(),
		model:   &llm.MockClient{},
		sent:    &notify.Recorder{},
		jobs:    &queue.Recorder{},
		reports: &fakeReports{},
	}
	f.p = New(Deps{
		Store:     f.store,
		Bucket:    f.bucket,
		Extractor: &plainExtractor{},
		Model:     f.model,
		Embedder:  f.model,
		Notifier:  f.sent,
		Queue:     f.jobs,
		Reports:   f.reports,
	})
	f.p.now = func() time.Time { return testNow }
	return f
}

// seed stores o after applying mutate.
func (f *fixture) seed(t *testing.T, status oit.Status, mutate func(o *oit.Order)) *oit.Order {
	t.Helper()
	o := oit.NewOrder("u1", "Monitoreo de calidad del aire PM10")
	o.Status = status
	if mutate != nil {
		mutate(o)
	}
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	return o
}

func (f *fixture) put(t *testing.T, key, body string) {
	t.Helper()
	if err := f.bucket.Put(context.Background(), key, "", []byte(body)); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) order(t *testing.T, id string) *oit.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

// routeModel answers Generate calls by the first prompt marker that matches.
func routeModel(t *testing.T, routes map[string]string) func(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return func(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
		for marker, reply := range routes {
			if strings.Contains(prompt, marker) {
				return reply, nil
			}
		}
		t.Errorf("unexpected prompt: %.120s", prompt)
		return "", llm.ErrUnavailable
	}
}

func unavailable(context.Context) bool { return false }

// plannedSteps returns n generic steps.
func plannedSteps(n int) []oit.Step {
	steps := make([]oit.Step, n)
	for i := range steps {
		steps[i] = oit.Step{Type: "form", Title: "Step " + string(rune('A'+i)), Required: true}
	}
	return steps
}

func TestClip(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abcdef", 3, "abc"},
		{"añb", 2, "a"},
		{"", 0, ""},
	}
	for _, tt := range tests {
		if got := clip(tt.in, tt.n); got != tt.want {
			t.Errorf("clip(%q,%d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestClampScore(t *testing.T) {
	for in, want := range map[float64]int{-5: 0, 0: 0, 72.4: 72, 72.5: 73, 100: 100, 140: 100} {
		if got := clampScore(in); got != want {
			t.Errorf("clampScore(%v) = %d, want %d", in, got, want)
		}
	}
}
