package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

// errSkip aborts an update whose order moved on since the sweep read it.
var errSkip = eris.New("order no longer stuck")

// Reconcile moves orders that have sat in UPLOADING or ANALYZING for longer
// than stuckAfter to a terminal status: REVIEW_NEEDED for a lab analysis,
// ERROR otherwise. It returns how many orders were moved.
func (p *Pipeline) Reconcile(ctx context.Context, stuckAfter time.Duration) (int, error) {
	cutoff := p.now().Add(-stuckAfter)
	stuck, err := p.store.StuckOrders(ctx, []oit.Status{oit.StatusUploading, oit.StatusAnalyzing}, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "load stuck orders")
	}

	moved := 0
	for _, s := range stuck {
		log := p.orderLog(s.ID)
		var target oit.Status
		o, err := p.store.UpdateOrder(ctx, s.ID, func(o *oit.Order) error {
			if !o.Status.InProgress() || o.UpdatedAt.After(cutoff) {
				return errSkip
			}
			target = oit.StatusError
			if o.Status == oit.StatusAnalyzing && o.LabResultsFile != "" {
				target = oit.StatusReviewNeeded
			}
			return o.Transition(target)
		})
		if eris.Is(err, errSkip) {
			continue
		}
		if err != nil {
			log.Error("reconcile order", zap.Error(err))
			continue
		}
		moved++
		log.Warn("stuck order reconciled", zap.String("from", string(s.Status)), zap.String("to", string(target)),
			zap.Time("updated_at", s.UpdatedAt))
		p.notify(ctx, o.CreatedBy, oit.Notification{
			Title:    "Processing timed out",
			Message:  fmt.Sprintf("Order %s stayed in %s since %s and was moved to %s.", displayNumber(o), s.Status, s.UpdatedAt.Format(time.RFC3339), target),
			Severity: oit.SeverityError,
			OrderID:  o.ID,
		})
	}
	return moved, nil
}

// SetStatus is the admin override. It bypasses the lifecycle graph.
func (p *Pipeline) SetStatus(ctx context.Context, orderID, adminID string, status oit.Status, reason string) (*oit.Order, error) {
	var from oit.Status
	o, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		from = o.Status
		o.ForceStatus(status)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "set status")
	}
	p.orderLog(orderID).Warn("status overridden", zap.String("from", string(from)), zap.String("to", string(status)),
		zap.String("by", adminID), zap.String("reason", reason))
	if o.CreatedBy != adminID {
		p.notify(ctx, o.CreatedBy, oit.Notification{
			Title:    "Order status changed",
			Message:  fmt.Sprintf("An administrator moved order %s from %s to %s. %s", displayNumber(o), from, status, reason),
			Severity: oit.SeverityInfo,
			OrderID:  orderID,
		})
	}
	return o, nil
}
