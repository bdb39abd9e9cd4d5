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
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
)

type labReply struct {
	Summary        string `json:"summary"`
	RequiresReview *bool  `json:"requiresReview"`
}

// RunLabAnalysis is the background lab stage. The order is expected in
// ANALYZING with a lab results file. It ends in COMPLETED, which triggers
// the final report, or in REVIEW_NEEDED.
func (p *Pipeline) RunLabAnalysis(ctx context.Context, orderID, userID string) error {
	log := p.orderLog(orderID)
	o, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return eris.Wrap(err, "load order")
	}
	if o.LabResultsFile == "" {
		p.fail(ctx, orderID, userID, oit.StatusReviewNeeded, "Lab analysis failed", eris.New("order has no lab results file"))
		return nil
	}
	log.Info("lab analysis started", zap.String("key", o.LabResultsFile))

	text := p.fileText(ctx, o.LabResultsFile)
	summary, review := p.summarizeLab(ctx, log, o, text)

	status := oit.StatusCompleted
	if review {
		status = oit.StatusReviewNeeded
	}
	updated, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		o.LabResultsAnalysis = summary
		return o.Transition(status)
	})
	if err != nil {
		p.fail(ctx, orderID, userID, oit.StatusReviewNeeded, "Lab analysis failed", err)
		return nil
	}
	log.Info("lab analysis stored", zap.String("status", string(status)))

	n := oit.Notification{
		Title:    "Lab results analyzed",
		Message:  fmt.Sprintf("Lab results for order %s were analyzed with no findings.", displayNumber(updated)),
		Severity: oit.SeveritySuccess,
		OrderID:  orderID,
	}
	if review {
		n.Title = "Lab results need review"
		n.Message = fmt.Sprintf("Lab results for order %s have findings that need review.", displayNumber(updated))
		n.Severity = oit.SeverityWarning
	}
	p.notify(ctx, userID, n)

	if status == oit.StatusCompleted && p.reports != nil {
		if _, err := p.reports.Generate(ctx, orderID, report.FormatDocx, userID); err != nil {
			log.Warn("final report generation failed", zap.Error(err))
		}
	}
	return nil
}

// summarizeLab returns the lab summary and whether it needs human review.
// An explicit requiresReview flag wins; replies without it are flagged when
// the summary mentions "Error".
func (p *Pipeline) summarizeLab(ctx context.Context, log *zap.Logger, o *oit.Order, text string) (string, bool) {
	if strings.TrimSpace(text) == "" || !p.model.Available(ctx) {
		return heuristic.SummarizeLab(text)
	}
	prompt := fmt.Sprintf(LabSummaryPrompt, displayNumber(o), orNone(strings.Join(o.AIData.Data.Parameters, ", ")), clip(text, labTextLimit))
	raw, err := p.model.Generate(ctx, prompt, llm.JSON(0.1))
	if err != nil {
		log.Warn("lab summary call failed, using heuristic summary", zap.Error(err))
		return heuristic.SummarizeLab(text)
	}
	var reply labReply
	if err := llm.DecodeJSON(raw, &reply); err != nil || strings.TrimSpace(reply.Summary) == "" {
		summary := strings.TrimSpace(llm.CleanFences(raw))
		if summary == "" {
			return heuristic.SummarizeLab(text)
		}
		return summary, strings.Contains(summary, "Error")
	}
	if reply.RequiresReview != nil {
		return reply.Summary, *reply.RequiresReview
	}
	return reply.Summary, strings.Contains(reply.Summary, "Error")
}
