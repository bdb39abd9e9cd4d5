package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/heuristic"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

// FinalizeSampling closes field work once every planned step is validated:
// it writes the final analysis, completes the order and releases every
// resource the order held. Incomplete orders are left untouched.
func (p *Pipeline) FinalizeSampling(ctx context.Context, orderID, userID string) (string, error) {
	log := p.orderLog(orderID)
	o, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", eris.Wrap(err, "load order")
	}
	if err := stepsComplete(o); err != nil {
		return "", err
	}

	narrative := p.finalNarrative(ctx, log, o)

	var release []string
	done, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		if err := stepsComplete(o); err != nil {
			return err
		}
		if err := o.Transition(oit.StatusCompleted); err != nil {
			return err
		}
		o.FinalAnalysis = narrative
		release = o.ResourcesToRelease()
		return nil
	})
	if err != nil {
		return "", eris.Wrap(err, "finalize sampling")
	}

	for _, id := range release {
		if err := p.store.SetResourceStatus(ctx, id, oit.ResourceAvailable); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				log.Warn("released resource not in inventory", zap.String("resource_id", id))
				continue
			}
			log.Error("release resource", zap.String("resource_id", id), zap.Error(err))
		}
	}
	log.Info("sampling finalized", zap.Int("released", len(release)))

	engineers, err := p.store.AssignedEngineers(ctx, orderID)
	if err != nil {
		log.Warn("load assigned engineers", zap.Error(err))
	}
	p.notifyMany(ctx, append([]string{userID}, engineers...), oit.Notification{
		Title:    "Sampling completed",
		Message:  fmt.Sprintf("Field work for order %s is complete. The final analysis is available.", displayNumber(done)),
		Severity: oit.SeveritySuccess,
		OrderID:  orderID,
	})
	return narrative, nil
}

func stepsComplete(o *oit.Order) error {
	total := o.TotalSteps()
	done := len(o.SamplingProgress.CompletedSteps)
	if total == 0 || done != total {
		return eris.Wrapf(ErrStepsIncomplete, "%d of %d steps validated", done, total)
	}
	return nil
}

// finalNarrative asks the model for the closing analysis and falls back to
// the step summary.
func (p *Pipeline) finalNarrative(ctx context.Context, log *zap.Logger, o *oit.Order) string {
	steps := o.Steps()
	prompt := fmt.Sprintf(FinalAnalysisPrompt,
		displayNumber(o),
		orNone(o.Description),
		orNone(o.Location),
		stepsBlock(steps, o.StepValidations),
		orNone(heuristic.FlattenSampling(o.SamplingData)),
	)
	text, err := p.model.Chat(ctx, prompt, "")
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	log.Warn("final analysis generation failed, using step summary", zap.Error(err))
	return heuristic.SummarizeSteps(steps, o.StepValidations)
}
