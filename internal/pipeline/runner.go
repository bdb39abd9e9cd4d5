package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/queue"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

// HandleJob runs one background job. It is the task boundary: panics and
// stage failures are recorded on the order and never escape. The returned
// error asks the queue for a retry and is only produced when the order could
// not be loaded for a reason other than it being gone.
func (p *Pipeline) HandleJob(ctx context.Context, job queue.Job) (err error) {
	log := p.orderLog(job.OrderID).With(zap.String("kind", string(job.Kind)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			p.failJob(ctx, job, eris.Errorf("internal error: %v", r))
			err = nil
		}
	}()

	log.Info("job started", zap.Int("attempt", job.Attempt))
	switch job.Kind {
	case queue.KindAnalyze:
		err = p.RunAnalysis(ctx, job.OrderID, job.UserID)
	case queue.KindLab:
		err = p.RunLabAnalysis(ctx, job.OrderID, job.UserID)
	case queue.KindFieldForm:
		err = p.RunFieldFormAnalysis(ctx, job.OrderID, job.UserID)
	case queue.KindCompliance:
		if _, cerr := p.CheckCompliance(ctx, job.OrderID, job.UserID); cerr != nil {
			err = p.reportJobError(ctx, job, "Compliance check failed", cerr)
		}
	case queue.KindPlanning:
		if _, perr := p.GenerateProposal(ctx, job.OrderID); perr != nil {
			err = p.reportJobError(ctx, job, "Planning failed", perr)
		}
	case queue.KindReport:
		err = p.runReport(ctx, job)
	default:
		log.Error("unknown job kind")
		return nil
	}

	if eris.Is(err, store.ErrNotFound) {
		log.Warn("order no longer exists, dropping job")
		return nil
	}
	return err
}

func (p *Pipeline) runReport(ctx context.Context, job queue.Job) error {
	if p.reports == nil {
		return p.reportJobError(ctx, job, "Report generation failed", eris.New("report generation is not configured"))
	}
	format, ok := report.ParseFormat(job.Format)
	if !ok {
		return p.reportJobError(ctx, job, "Report generation failed", eris.Errorf("unsupported format %q", job.Format))
	}
	if _, err := p.reports.Generate(ctx, job.OrderID, format, job.UserID); err != nil {
		return p.reportJobError(ctx, job, "Report generation failed", err)
	}
	return nil
}

// reportJobError notifies the user of a failed job that has no failure
// status of its own. Missing orders are passed through for HandleJob.
func (p *Pipeline) reportJobError(ctx context.Context, job queue.Job, title string, err error) error {
	if eris.Is(err, store.ErrNotFound) {
		return err
	}
	p.orderLog(job.OrderID).Error("job failed", zap.String("kind", string(job.Kind)), zap.Error(err))
	p.notify(ctx, job.UserID, oit.Notification{
		Title:    title,
		Message:  eris.Cause(err).Error(),
		Severity: oit.SeverityError,
		OrderID:  job.OrderID,
	})
	return nil
}

// failJob records a crashed job on the order.
func (p *Pipeline) failJob(ctx context.Context, job queue.Job, cause error) {
	switch job.Kind {
	case queue.KindAnalyze:
		p.fail(ctx, job.OrderID, job.UserID, oit.StatusError, "Document analysis failed", cause)
	case queue.KindLab:
		p.fail(ctx, job.OrderID, job.UserID, oit.StatusReviewNeeded, "Lab analysis failed", cause)
	default:
		p.reportJobError(ctx, job, fmt.Sprintf("%s job failed", job.Kind), cause)
	}
}

// Enqueue dispatches a background job for an order.
func (p *Pipeline) Enqueue(ctx context.Context, kind queue.Kind, orderID, userID, format string) error {
	if p.queue == nil {
		return eris.New("no job queue configured")
	}
	if err := p.queue.Enqueue(ctx, queue.Job{Kind: kind, OrderID: orderID, UserID: userID, Format: format}); err != nil {
		return eris.Wrapf(err, "enqueue %s", kind)
	}
	return nil
}

// StartAnalysis moves the order to ANALYZING and queues the analysis job.
// A job that cannot be queued leaves the order in ERROR.
func (p *Pipeline) StartAnalysis(ctx context.Context, orderID, userID string) (*oit.Order, error) {
	o, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		if o.OITFile == "" {
			return eris.Wrap(ErrInvalidInput, "order has no OIT document")
		}
		return o.Transition(oit.StatusAnalyzing)
	})
	if err != nil {
		return nil, eris.Wrap(err, "start analysis")
	}
	if err := p.Enqueue(ctx, queue.KindAnalyze, orderID, userID, ""); err != nil {
		p.fail(ctx, orderID, userID, oit.StatusError, "Document analysis failed", err)
		return nil, err
	}
	return o, nil
}

// AttachFile records an uploaded file on its order and starts the stage the
// file kind feeds:
//   - the OIT document starts analysis
//   - a quotation arriving after analysis finished re-runs it
//   - lab results start lab analysis
//   - a field form starts its digitization
func (p *Pipeline) AttachFile(ctx context.Context, orderID string, kind storage.FileKind, key string) error {
	log := p.orderLog(orderID).With(zap.String("kind", string(kind)), zap.String("key", key))
	var job queue.Kind
	o, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		job = ""
		switch kind {
		case storage.KindOIT:
			o.OITFile = key
			if o.Status == oit.StatusAnalyzing {
				return nil
			}
			job = queue.KindAnalyze
			return o.Transition(oit.StatusAnalyzing)
		case storage.KindQuotation:
			o.QuotationFile = key
			if o.OITFile == "" {
				return nil
			}
			switch o.Status {
			case oit.StatusReviewRequired, oit.StatusPending, oit.StatusError:
				job = queue.KindAnalyze
				return o.Transition(oit.StatusAnalyzing)
			}
			return nil
		case storage.KindLab:
			o.LabResultsFile = key
			job = queue.KindLab
			return o.Transition(oit.StatusAnalyzing)
		case storage.KindFieldForm:
			o.FieldFormFile = key
			job = queue.KindFieldForm
			return nil
		}
		return eris.Wrapf(ErrInvalidInput, "file kind %q is not an upload", kind)
	})
	if err != nil {
		return eris.Wrap(err, "attach file")
	}
	log.Info("file attached", zap.String("status", string(o.Status)))
	if job == "" {
		return nil
	}
	if err := p.Enqueue(ctx, job, orderID, o.CreatedBy, ""); err != nil {
		switch job {
		case queue.KindAnalyze:
			p.fail(ctx, orderID, o.CreatedBy, oit.StatusError, "Document analysis failed", err)
		case queue.KindLab:
			p.fail(ctx, orderID, o.CreatedBy, oit.StatusReviewNeeded, "Lab analysis failed", err)
		}
		return err
	}
	return nil
}
