package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/heuristic"
	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

// analysisContextWindow caps the analysis prompt, in tokens.
const analysisContextWindow = 32000

// DocumentAnalyzer turns the OIT and quotation texts into an aiData envelope.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, oitText, quotationText string) (oit.AIEnvelope, error)
}

// modelAnalyzer asks the language model.
type modelAnalyzer struct {
	model llm.Client
}

func (a modelAnalyzer) Analyze(ctx context.Context, oitText, quotationText string) (oit.AIEnvelope, error) {
	if !a.model.Available(ctx) {
		return oit.AIEnvelope{}, llm.ErrUnavailable
	}
	opts := llm.JSON(0.1)
	opts.ContextWindow = analysisContextWindow
	raw, err := a.model.Generate(ctx, buildAnalysisPrompt(oitText, quotationText), opts)
	if err != nil {
		return oit.AIEnvelope{}, eris.Wrap(err, "generate analysis")
	}
	var env oit.AIEnvelope
	if err := llm.DecodeJSON(raw, &env); err != nil {
		return oit.AIEnvelope{}, eris.Wrap(err, "parse analysis")
	}
	return env, nil
}

// heuristicAnalyzer runs the keyword and pattern rules. It never fails.
type heuristicAnalyzer struct{}

func (heuristicAnalyzer) Analyze(_ context.Context, oitText, quotationText string) (oit.AIEnvelope, error) {
	return heuristic.ExtractDocument(oitText, quotationText), nil
}

// fallbackAnalyzer tries primary and falls back to secondary on any error.
type fallbackAnalyzer struct {
	primary   DocumentAnalyzer
	secondary DocumentAnalyzer
	logger    *zap.Logger
}

func newFallbackAnalyzer(model llm.Client, logger *zap.Logger) *fallbackAnalyzer {
	return &fallbackAnalyzer{
		primary:   modelAnalyzer{model: model},
		secondary: heuristicAnalyzer{},
		logger:    logger,
	}
}

func (f *fallbackAnalyzer) Analyze(ctx context.Context, oitText, quotationText string) (oit.AIEnvelope, error) {
	env, err := f.primary.Analyze(ctx, oitText, quotationText)
	if err == nil {
		return env, nil
	}
	f.logger.Warn("model analysis failed, using heuristic extraction", zap.Error(err))
	return f.secondary.Analyze(ctx, oitText, quotationText)
}

// Analyze extracts the aiData envelope from the document texts. It never
// fails: without a usable model reply the heuristic extractor answers, and
// the result always has the full envelope shape.
func (p *Pipeline) Analyze(ctx context.Context, oitText, quotationText string) oit.AIEnvelope {
	env, err := p.analyzer.Analyze(ctx, oitText, quotationText)
	if err != nil {
		p.logger.Warn("document analysis failed", zap.Error(err))
		env = heuristic.ExtractDocument(oitText, quotationText)
	}
	env.Normalize()
	return env
}

// RunAnalysis is the background analysis stage. The order is expected in
// ANALYZING. It ends in REVIEW_REQUIRED, followed by compliance and
// planning, or in ERROR. The returned error is only for failures before the
// stage could start.
func (p *Pipeline) RunAnalysis(ctx context.Context, orderID, userID string) error {
	log := p.orderLog(orderID)
	o, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return eris.Wrap(err, "load order")
	}
	log.Info("analysis started")

	if o.OITFile == "" {
		p.fail(ctx, orderID, userID, oit.StatusError, "Document analysis failed", eris.New("order has no OIT document"))
		return nil
	}
	oitText := p.fileText(ctx, o.OITFile)
	quotationText := p.fileText(ctx, o.QuotationFile)
	if strings.TrimSpace(oitText) == "" {
		log.Warn("no text extracted from OIT document", zap.String("key", o.OITFile))
	}

	env := p.Analyze(ctx, oitText, quotationText)

	updated, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		merged := o.AIData.Data
		merged.MergeExtraction(env.Data)
		next := env
		next.Data = merged
		o.AIData = next

		o.Description = stronger(o.Description, env.Data.Description)
		o.Location = stronger(o.Location, env.Data.Location)
		o.OITNumber = stronger(o.OITNumber, env.Data.OITNumber)
		if o.OITNumber == "" {
			o.OITNumber = oit.GenerateOITNumber(p.now())
		}
		return o.Transition(oit.StatusReviewRequired)
	})
	if err != nil {
		p.fail(ctx, orderID, userID, oit.StatusError, "Document analysis failed", err)
		return nil
	}
	log.Info("analysis stored", zap.Bool("valid", env.Valid), zap.Int("errors", len(env.Errors)))

	if _, err := p.CheckCompliance(ctx, orderID, userID); err != nil {
		log.Warn("compliance check failed", zap.Error(err))
	}
	p.planBestEffort(ctx, orderID)

	n := oit.Notification{
		Title:    "Document analysis completed",
		Message:  fmt.Sprintf("Order %s was analyzed and is ready for review.", displayNumber(updated)),
		Severity: oit.SeveritySuccess,
		OrderID:  orderID,
	}
	if !env.Valid {
		n.Severity = oit.SeverityWarning
		n.Message = fmt.Sprintf("Order %s was analyzed with %d issue(s): %s", displayNumber(updated), len(env.Errors), strings.Join(env.Errors, "; "))
	}
	p.notify(ctx, userID, n)
	return nil
}

// stronger keeps current unless next is non-empty and at least as long.
func stronger(current, next string) string {
	next = strings.TrimSpace(next)
	if next == "" || len(next) < len(strings.TrimSpace(current)) {
		return current
	}
	return next
}

// fail moves an order to a terminal failure status and notifies the user.
// It falls back to a forced write when the graph has no edge to status, so
// a failed stage never leaves the order in an in-progress status.
func (p *Pipeline) fail(ctx context.Context, orderID, userID string, status oit.Status, title string, cause error) {
	log := p.orderLog(orderID)
	log.Error("stage failed", zap.String("status", string(status)), zap.Error(cause))

	ctx = context.WithoutCancel(ctx)
	var number string
	_, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		number = displayNumber(o)
		if err := o.Transition(status); err != nil {
			log.Warn("forcing failure status", zap.String("from", string(o.Status)), zap.String("to", string(status)))
			o.ForceStatus(status)
		}
		return nil
	})
	if err != nil {
		log.Error("could not record failure status", zap.Error(err))
	}
	if number == "" {
		number = orderID
	}
	p.notify(ctx, userID, oit.Notification{
		Title:    title,
		Message:  fmt.Sprintf("Order %s: %s", number, eris.Cause(cause).Error()),
		Severity: oit.SeverityError,
		OrderID:  orderID,
	})
}
