package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/heuristic"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

// RunFieldFormAnalysis digitizes the scanned field form into a summary. The
// order status is not changed.
func (p *Pipeline) RunFieldFormAnalysis(ctx context.Context, orderID, userID string) error {
	log := p.orderLog(orderID)
	o, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return eris.Wrap(err, "load order")
	}
	if o.FieldFormFile == "" {
		log.Warn("field form job without file")
		return nil
	}

	text := p.fileText(ctx, o.FieldFormFile)
	summary := heuristic.SummarizeFieldForm(text)
	if strings.TrimSpace(text) != "" {
		out, err := p.model.Chat(ctx, fmt.Sprintf(FieldFormPrompt, displayNumber(o), clip(text, fieldFormTextLimit)), "")
		if err == nil && strings.TrimSpace(out) != "" {
			summary = strings.TrimSpace(out)
		} else {
			log.Warn("field form summary failed, using extracted text", zap.Error(err))
		}
	}

	if _, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		o.FieldFormAnalysis = summary
		return nil
	}); err != nil {
		p.notify(ctx, userID, oit.Notification{
			Title:    "Field form analysis failed",
			Message:  fmt.Sprintf("Order %s: %s", displayNumber(o), eris.Cause(err).Error()),
			Severity: oit.SeverityError,
			OrderID:  orderID,
		})
		log.Error("save field form analysis", zap.Error(err))
		return nil
	}
	log.Info("field form analyzed")
	p.notify(ctx, userID, oit.Notification{
		Title:    "Field form processed",
		Message:  fmt.Sprintf("The field form of order %s was digitized.", displayNumber(o)),
		Severity: oit.SeverityInfo,
		OrderID:  orderID,
	})
	return nil
}
