package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

const retryFeedback = "The step could not be validated automatically. Check the captured data and try again."

// StepResult is the judgment returned for one sampling step.
type StepResult struct {
	Validated  bool    `json:"validated"`
	Feedback   string  `json:"feedback"`
	Confidence float64 `json:"confidence"`
}

// ValidateStep judges the data captured for step stepIndex and records the
// result. Model failures produce a not-validated result, never an error;
// only a missing order or a bad step index fail.
func (p *Pipeline) ValidateStep(ctx context.Context, orderID string, stepIndex int, description, requirements string, data map[string]any) (StepResult, error) {
	log := p.orderLog(orderID).With(zap.Int("step", stepIndex))
	o, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return StepResult{}, eris.Wrap(err, "load order")
	}
	steps := o.Steps()
	if stepIndex < 0 || stepIndex >= len(steps) {
		return StepResult{}, eris.Wrapf(ErrInvalidInput, "step %d out of range, plan has %d steps", stepIndex, len(steps))
	}
	step := steps[stepIndex]
	if strings.TrimSpace(description) == "" {
		description = step.Description
	}
	if strings.TrimSpace(requirements) == "" {
		requirements = step.Requirements
	}

	result := p.judgeStep(ctx, log, step.Title, description, requirements, data)

	_, err = p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		if stepIndex >= o.TotalSteps() {
			return eris.Wrapf(ErrInvalidInput, "step %d out of range", stepIndex)
		}
		if o.StepValidations == nil {
			o.StepValidations = oit.StepValidations{}
		}
		o.StepValidations[stepIndex] = oit.StepValidation{
			Validated:  result.Validated,
			Feedback:   result.Feedback,
			Confidence: result.Confidence,
			Data:       data,
			Timestamp:  p.now(),
		}
		if !result.Validated {
			return nil
		}
		o.SamplingProgress.Complete(stepIndex)
		switch o.Status {
		case oit.StatusScheduled, oit.StatusRedoRequired, oit.StatusReviewRequired:
			return o.Transition(oit.StatusInProgress)
		}
		return nil
	})
	if err != nil {
		return StepResult{}, eris.Wrap(err, "record step validation")
	}
	log.Info("step validated", zap.Bool("validated", result.Validated), zap.Float64("confidence", result.Confidence))
	return result, nil
}

func (p *Pipeline) judgeStep(ctx context.Context, log *zap.Logger, title, description, requirements string, data map[string]any) StepResult {
	payload, _ := json.MarshalIndent(data, "", "  ")
	prompt := fmt.Sprintf(StepValidationPrompt, orNone(title), orNone(description), orNone(requirements), payload)
	raw, err := p.model.Generate(ctx, prompt, llm.JSON(0.1))
	if err != nil {
		log.Warn("step validation call failed", zap.Error(err))
		return StepResult{Feedback: retryFeedback}
	}
	var r StepResult
	if err := llm.DecodeJSON(raw, &r); err != nil {
		log.Warn("step validation reply unparsable", zap.Error(err))
		return StepResult{Feedback: retryFeedback}
	}
	switch {
	case r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}
	return r
}

// RequestRedoSteps sends steps back to the field. An empty indices list
// means every step. Assigned engineers are notified.
func (p *Pipeline) RequestRedoSteps(ctx context.Context, orderID, adminID string, indices []int, reason string) (*oit.Order, error) {
	var redo []int
	o, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		total := o.TotalSteps()
		if total == 0 {
			return eris.Wrap(ErrInvalidInput, "order has no sampling plan")
		}
		var err error
		redo, err = redoIndices(indices, total)
		if err != nil {
			return err
		}
		if err := o.Transition(oit.StatusRedoRequired); err != nil {
			return err
		}
		o.SamplingProgress.Redo(redo, reason, adminID, p.now())
		for _, i := range redo {
			if v, ok := o.StepValidations[i]; ok {
				v.RedoRequired = true
				o.StepValidations[i] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "request redo")
	}
	p.orderLog(orderID).Info("redo requested", zap.Ints("steps", redo), zap.String("by", adminID))

	engineers, err := p.store.AssignedEngineers(ctx, orderID)
	if err != nil {
		p.orderLog(orderID).Warn("load assigned engineers", zap.Error(err))
	}
	human := make([]string, len(redo))
	for i, idx := range redo {
		human[i] = fmt.Sprint(idx + 1)
	}
	p.notifyMany(ctx, engineers, oit.Notification{
		Title:    "Sampling steps must be repeated",
		Message:  fmt.Sprintf("Order %s: repeat step(s) %s. Reason: %s", displayNumber(o), strings.Join(human, ", "), orNone(reason)),
		Severity: oit.SeverityWarning,
		OrderID:  orderID,
	})
	return o, nil
}

// redoIndices validates and dedups the requested indices.
func redoIndices(indices []int, total int) ([]int, error) {
	if len(indices) == 0 {
		all := make([]int, total)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	seen := make(map[int]bool, len(indices))
	var out []int
	for _, i := range indices {
		if i < 0 || i >= total {
			return nil, eris.Wrapf(ErrInvalidInput, "step %d out of range, plan has %d steps", i, total)
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out, nil
}
