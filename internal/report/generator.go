// Package report maps order data onto report templates and renders the final
// Word or PDF report.
package report

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/heuristic"
	"github.com/dylan-vpa/serambienteai-sub000/internal/notify"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

// Format of a rendered report.
type Format string

const (
	FormatDocx Format = "docx"
	FormatPDF  Format = "pdf"
)

// ParseFormat validates a requested format; empty means docx.
func ParseFormat(s string) (Format, bool) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatDocx, true
	case FormatDocx, FormatPDF:
		return f, true
	}
	return "", false
}

// OrderStore is the persistence the generator needs.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*oit.Order, error)
	UpdateOrder(ctx context.Context, id string, fn store.UpdateFunc) (*oit.Order, error)
}

// PDFConverter turns rendered output into PDF.
type PDFConverter interface {
	FromDocx(ctx context.Context, docx []byte) ([]byte, error)
	FromHTML(ctx context.Context, html string) ([]byte, error)
}

// Generator renders, uploads and records an order's final report.
type Generator struct {
	store     OrderStore
	bucket    storage.Bucket
	templates *Templates
	renderer  Renderer
	pdf       PDFConverter
	mapper    *Mapper
	notifier  notify.Sink
	logger    *zap.Logger
	now       func() time.Time
}

// NewGenerator wires a Generator. The mapper enumerates fields through
// renderer.
func NewGenerator(st OrderStore, bucket storage.Bucket, templates *Templates, renderer Renderer, pdf PDFConverter, notifier notify.Sink, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Generator{
		store:     st,
		bucket:    bucket,
		templates: templates,
		renderer:  renderer,
		pdf:       pdf,
		mapper:    NewMapper(renderer, logger),
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// Generate renders the report for orderID, stores it under the order's
// reports prefix and records it as FinalReportFile. It returns the key.
func (g *Generator) Generate(ctx context.Context, orderID string, format Format, userID string) (string, error) {
	o, err := g.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", eris.Wrap(err, "load order")
	}
	log := g.logger.With(zap.String("order_id", orderID), zap.String("format", string(format)))

	now := g.now()
	template, err := g.templates.Match(ctx, g.mapper.tables, orderType(o))
	if err != nil && !eris.Is(err, ErrNoTemplate) {
		return "", err
	}
	if template == "" && format == FormatDocx {
		return "", ErrNoTemplate
	}

	oc := OrderContext{Order: o, Now: now, System: map[string]string{"generatedBy": userID}}
	data := g.mapper.GenerateData(ctx, template, oc, o.FinalAnalysis)

	var body []byte
	switch format {
	case FormatDocx:
		body, err = g.renderer.Render(ctx, template, data)
		if err != nil {
			return "", eris.Wrap(err, "render docx")
		}
	case FormatPDF:
		body, err = g.renderPDF(ctx, log, template, oc, data)
		if err != nil {
			return "", err
		}
	default:
		return "", eris.Errorf("unsupported format %q", format)
	}

	name := fmt.Sprintf("informe-%s-%s.%s", fileSafe(firstNonEmpty(o.OITNumber, o.ID)), now.UTC().Format("20060102-150405"), format)
	key := storage.ReportKey(orderID, name)
	if err := g.bucket.Put(ctx, key, storage.ContentType(name), body); err != nil {
		return "", eris.Wrap(err, "upload report")
	}
	if _, err := g.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		o.FinalReportFile = key
		return nil
	}); err != nil {
		return "", eris.Wrap(err, "record report")
	}
	log.Info("report generated", zap.String("key", key), zap.String("template", template))

	recipients := []string{userID}
	if o.CreatedBy != userID {
		recipients = append(recipients, o.CreatedBy)
	}
	notify.Many(ctx, g.notifier, recipients, oit.Notification{
		Title:    "Final report ready",
		Message:  fmt.Sprintf("The %s report for order %s is ready to download.", format, firstNonEmpty(o.OITNumber, o.ID)),
		Severity: oit.SeveritySuccess,
		OrderID:  orderID,
	})
	return key, nil
}

// renderPDF converts the filled Word template, falling back to the HTML
// report when there is no template or conversion fails.
func (g *Generator) renderPDF(ctx context.Context, log *zap.Logger, template string, oc OrderContext, data map[string]string) ([]byte, error) {
	if template != "" {
		docx, err := g.renderer.Render(ctx, template, data)
		if err == nil {
			pdf, cerr := g.pdf.FromDocx(ctx, docx)
			if cerr == nil {
				return pdf, nil
			}
			err = cerr
		}
		log.Warn("docx to pdf failed, using html report", zap.Error(err))
	}
	html, err := RenderHTML(oc, data, oc.Order.FinalAnalysis)
	if err != nil {
		return nil, err
	}
	pdf, err := g.pdf.FromHTML(ctx, html)
	if err != nil {
		return nil, eris.Wrap(err, "render pdf")
	}
	return pdf, nil
}

// orderType prefers the persisted compliance classification.
func orderType(o *oit.Order) string {
	if o.Compliance != nil && o.Compliance.OITType != "" {
		return o.Compliance.OITType
	}
	d := o.AIData.Data
	return heuristic.Classify(o.Description, d.Type, d.ServiceType, d.Description).Type
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func fileSafe(s string) string {
	return strings.Trim(unsafeName.ReplaceAllString(s, "_"), "_")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
