// Package pipeline runs the order workflow stages: document analysis,
// compliance, planning, step validation, finalization, lab and field-form
// analysis, consistency verification and the background job boundary that
// ties them together.
package pipeline

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/extract"
	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/notify"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/queue"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

var (
	// ErrStepsIncomplete is returned by FinalizeSampling when not every
	// planned step has been validated.
	ErrStepsIncomplete = eris.New("sampling steps incomplete")
	// ErrInvalidInput marks requests that name missing steps or plans.
	ErrInvalidInput = eris.New("invalid input")
	// ErrModelUnavailable is returned by stages that cannot degrade without
	// the language model.
	ErrModelUnavailable = eris.New("language model unavailable")
	// ErrConsistencyUnparsable is returned when the consistency reply is not
	// the expected JSON.
	ErrConsistencyUnparsable = eris.New("consistency result unparsable")
)

// ReportGenerator renders the final report for an order.
type ReportGenerator interface {
	Generate(ctx context.Context, orderID string, format report.Format, userID string) (string, error)
}

// Deps are the collaborators of a Pipeline. Embedder, Reports, Queue and
// Notifier are optional.
type Deps struct {
	Store     store.Store
	Bucket    storage.Bucket
	Extractor extract.TextExtractor
	Model     llm.Client
	Embedder  llm.Embedder
	Notifier  notify.Sink
	Queue     queue.Dispatcher
	Reports   ReportGenerator
	Logger    *zap.Logger
}

// Pipeline holds dependencies for every workflow stage.
type Pipeline struct {
	store     store.Store
	bucket    storage.Bucket
	extractor extract.TextExtractor
	model     llm.Client
	embedder  llm.Embedder
	notifier  notify.Sink
	queue     queue.Dispatcher
	reports   ReportGenerator
	analyzer  DocumentAnalyzer
	logger    *zap.Logger
	now       func() time.Time
}

// New wires a Pipeline.
func New(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Model == nil {
		d.Model = llm.Unavailable{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Discard{}
	}
	return &Pipeline{
		store:     d.Store,
		bucket:    d.Bucket,
		extractor: d.Extractor,
		model:     d.Model,
		embedder:  d.Embedder,
		notifier:  d.Notifier,
		queue:     d.Queue,
		reports:   d.Reports,
		analyzer:  newFallbackAnalyzer(d.Model, d.Logger),
		logger:    d.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetQueue sets the dispatcher after construction. The inline dispatcher
// needs the pipeline's job handler, so the two are wired in two steps.
func (p *Pipeline) SetQueue(q queue.Dispatcher) {
	p.queue = q
}

// fileText downloads a stored file and extracts its text. Missing keys and
// download failures yield "".
func (p *Pipeline) fileText(ctx context.Context, key string) string {
	if key == "" || p.bucket == nil || p.extractor == nil {
		return ""
	}
	data, err := p.bucket.Get(ctx, key)
	if err != nil {
		p.logger.Warn("download failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return p.extractor.ExtractText(ctx, data, storage.ContentType(key))
}

func (p *Pipeline) notify(ctx context.Context, userID string, n oit.Notification) {
	if userID == "" {
		return
	}
	n.UserID = userID
	p.notifier.Notify(ctx, n)
}

func (p *Pipeline) notifyMany(ctx context.Context, userIDs []string, n oit.Notification) {
	notify.Many(ctx, p.notifier, userIDs, n)
}

func (p *Pipeline) orderLog(orderID string) *zap.Logger {
	return p.logger.With(zap.String("order_id", orderID))
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v + 0.5)
}

func displayNumber(o *oit.Order) string {
	if o.OITNumber != "" {
		return o.OITNumber
	}
	return o.ID
}
