package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dylan-vpa/serambienteai-sub000/internal/heuristic"
	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

type consistencyReply struct {
	Valid         bool              `json:"valid"`
	Score         float64           `json:"score"`
	Discrepancies []oit.Discrepancy `json:"discrepancies"`
	Matches       []string          `json:"matches"`
	Summary       string            `json:"summary"`
}

// consistencySources are the four prompt sections. A missing source stays
// empty.
type consistencySources struct {
	metadata  string
	sampling  string
	lab       string
	fieldForm string
}

// VerifyConsistency cross-checks the order metadata, sampling data, lab
// results and field form, and persists the verdict. An invalid verdict on a
// completed order moves it to REVIEW_IMPORTANT.
func (p *Pipeline) VerifyConsistency(ctx context.Context, orderID string) (oit.ConsistencyResult, error) {
	log := p.orderLog(orderID)
	o, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return oit.ConsistencyResult{}, eris.Wrap(err, "load order")
	}
	if !p.model.Available(ctx) {
		return oit.ConsistencyResult{}, ErrModelUnavailable
	}

	src, err := p.gatherSources(ctx, o)
	if err != nil {
		return oit.ConsistencyResult{}, err
	}
	prompt := fmt.Sprintf(ConsistencyPrompt, orNone(src.metadata), orNone(src.sampling), orNone(src.lab), orNone(src.fieldForm))
	raw, err := p.model.Generate(ctx, prompt, llm.JSON(0))
	if err != nil {
		log.Warn("consistency call failed", zap.Error(err))
		return oit.ConsistencyResult{}, eris.Wrap(ErrModelUnavailable, err.Error())
	}
	var reply consistencyReply
	if err := llm.DecodeJSON(raw, &reply); err != nil {
		log.Warn("consistency reply unparsable", zap.Error(err))
		return oit.ConsistencyResult{}, eris.Wrap(ErrConsistencyUnparsable, err.Error())
	}

	result := oit.ConsistencyResult{
		Valid:         reply.Valid,
		Score:         clampScore(reply.Score),
		Discrepancies: reply.Discrepancies,
		Matches:       reply.Matches,
		Summary:       reply.Summary,
		CheckedAt:     p.now(),
	}
	if result.Discrepancies == nil {
		result.Discrepancies = []oit.Discrepancy{}
	}
	if result.Matches == nil {
		result.Matches = []string{}
	}

	if _, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		r := result
		o.Consistency = &r
		if !r.Valid && o.Status == oit.StatusCompleted {
			return o.Transition(oit.StatusReviewImportant)
		}
		return nil
	}); err != nil {
		return result, eris.Wrap(err, "save consistency")
	}
	log.Info("consistency verified", zap.Bool("valid", result.Valid), zap.Int("discrepancies", len(result.Discrepancies)))
	return result, nil
}

// gatherSources loads the four sections concurrently, each capped at
// consistencySourceLimit.
func (p *Pipeline) gatherSources(ctx context.Context, o *oit.Order) (consistencySources, error) {
	var src consistencySources
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		src.metadata = clip(orderSummary(o), consistencySourceLimit)
		return nil
	})
	g.Go(func() error {
		src.sampling = clip(samplingSummary(o), consistencySourceLimit)
		return nil
	})
	g.Go(func() error {
		text := p.fileText(gctx, o.LabResultsFile)
		if strings.TrimSpace(text) == "" {
			text = o.LabResultsAnalysis
		}
		src.lab = clip(text, consistencySourceLimit)
		return gctx.Err()
	})
	g.Go(func() error {
		text := p.fileText(gctx, o.FieldFormFile)
		if strings.TrimSpace(text) == "" {
			text = o.FieldFormAnalysis
		}
		src.fieldForm = clip(text, consistencySourceLimit)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return consistencySources{}, eris.Wrap(err, "gather consistency sources")
	}
	return src, nil
}

// samplingSummary flattens the order sampling data and the data captured
// per step.
func samplingSummary(o *oit.Order) string {
	var b strings.Builder
	if s := heuristic.FlattenSampling(o.SamplingData); s != "" {
		b.WriteString(s)
		b.WriteString("\n")
	}
	steps := o.Steps()
	for _, i := range o.StepValidations.Indices() {
		v := o.StepValidations[i]
		title := fmt.Sprintf("Step %d", i+1)
		if i < len(steps) && steps[i].Title != "" {
			title = steps[i].Title
		}
		if s := heuristic.FlattenSampling(v.Data); s != "" {
			fmt.Fprintf(&b, "%s: %s\n", title, s)
		}
	}
	return b.String()
}
