package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/heuristic"
	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

const complianceFailedSummary = "failed to analyze"

type complianceReply struct {
	Compliant        bool     `json:"compliant"`
	Score            float64  `json:"score"`
	Summary          string   `json:"summary"`
	AppliedStandards []string `json:"appliedStandards"`
	Exclusions       []string `json:"exclusions"`
	Issues           []string `json:"issues"`
	Recommendations  []string `json:"recommendations"`
}

// CheckCompliance classifies the order, checks it against the applicable
// standards, persists the result and notifies userID.
func (p *Pipeline) CheckCompliance(ctx context.Context, orderID, userID string) (oit.ComplianceResult, error) {
	log := p.orderLog(orderID)
	o, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return oit.ComplianceResult{}, eris.Wrap(err, "load order")
	}

	d := o.AIData.Data
	class := heuristic.Classify(o.Description, d.Type, d.ServiceType, d.Description)

	standards, err := p.store.StandardsByCategories(ctx, class.Categories, nil)
	if err != nil {
		return oit.ComplianceResult{}, eris.Wrap(err, "load standards")
	}
	if len(standards) > 1 {
		standards = p.rankStandards(ctx, log, class.Categories, o.Description, standards)
	}

	var result oit.ComplianceResult
	if len(standards) == 0 {
		result = oit.ComplianceResult{
			Compliant: true,
			Score:     100,
			Summary:   fmt.Sprintf("No standards are registered for categories %s; there is nothing to check against.", strings.Join(class.Categories, ", ")),
		}
	} else {
		quotation := p.fileText(ctx, o.QuotationFile)
		result = p.assessCompliance(ctx, log, o, class.Type, quotation, standards)
	}
	result.OITType = class.Type
	result.CheckedAt = p.now()
	normalizeCompliance(&result)

	if _, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		r := result
		o.Compliance = &r
		return nil
	}); err != nil {
		return result, eris.Wrap(err, "save compliance")
	}
	log.Info("compliance checked", zap.String("type", class.Type), zap.Int("standards", len(standards)),
		zap.Bool("compliant", result.Compliant), zap.Int("score", result.Score))

	n := oit.Notification{
		Title:    "Order is compliant",
		Severity: oit.SeveritySuccess,
		OrderID:  orderID,
		Message: fmt.Sprintf("Order %s scored %d/100 against the applicable standards. Exclusions found: %d.",
			displayNumber(o), result.Score, len(result.Exclusions)),
	}
	if !result.Compliant {
		n.Title = "Order is not compliant"
		n.Severity = oit.SeverityWarning
	}
	p.notify(ctx, userID, n)
	return result, nil
}

func (p *Pipeline) assessCompliance(ctx context.Context, log *zap.Logger, o *oit.Order, orderType, quotation string, standards []oit.Standard) oit.ComplianceResult {
	codes := make([]string, len(standards))
	for i, s := range standards {
		codes[i] = s.Code
	}
	failed := oit.ComplianceResult{
		Summary:          complianceFailedSummary,
		AppliedStandards: codes,
		Exclusions:       heuristic.Exclusions(quotation),
	}
	if !p.model.Available(ctx) {
		log.Warn("model unavailable, compliance not assessed")
		return failed
	}

	aiJSON, _ := json.Marshal(o.AIData.Data)
	prompt := fmt.Sprintf(CompliancePrompt,
		orderType,
		orderSummary(o),
		clip(string(aiJSON), complianceAIDataLimit),
		orNone(clip(quotation, complianceQuotationLimit)),
		standardsBlock(standards),
	)
	raw, err := p.model.Generate(ctx, prompt, llm.JSON(0.1))
	if err != nil {
		log.Warn("compliance generation failed", zap.Error(err))
		return failed
	}
	var reply complianceReply
	if err := llm.DecodeJSON(raw, &reply); err != nil {
		log.Warn("compliance reply unparsable", zap.Error(err))
		return failed
	}
	return oit.ComplianceResult{
		Compliant:        reply.Compliant,
		Score:            clampScore(reply.Score),
		Summary:          reply.Summary,
		AppliedStandards: reply.AppliedStandards,
		Exclusions:       reply.Exclusions,
		Issues:           reply.Issues,
		Recommendations:  reply.Recommendations,
	}
}

// rankStandards reorders standards by similarity to the order description.
// Any failure keeps the unranked list.
func (p *Pipeline) rankStandards(ctx context.Context, log *zap.Logger, categories []string, description string, standards []oit.Standard) []oit.Standard {
	if p.embedder == nil || strings.TrimSpace(description) == "" {
		return standards
	}
	v, err := p.embedder.Embed(ctx, description)
	if err != nil || len(v) == 0 {
		log.Warn("embedding failed, standards unranked", zap.Error(err))
		return standards
	}
	ranked, err := p.store.StandardsByCategories(ctx, categories, v)
	if err != nil || len(ranked) == 0 {
		log.Warn("ranked standards query failed", zap.Error(err))
		return standards
	}
	return ranked
}

func normalizeCompliance(r *oit.ComplianceResult) {
	for _, s := range []*[]string{&r.AppliedStandards, &r.Exclusions, &r.Issues, &r.Recommendations} {
		if *s == nil {
			*s = []string{}
		}
	}
}
