// Package store persists orders and the read-only catalogs the pipeline
// consults. Order writes are optimistic: every update is conditional on the
// version that was read, and lost races are retried from a fresh read.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = eris.New("not found")
	// ErrConflict is returned when an order kept changing underneath an
	// update for every retry attempt.
	ErrConflict = eris.New("concurrent update conflict")
)

// MaxUpdateAttempts bounds the optimistic retry loop in UpdateOrder.
const MaxUpdateAttempts = 5

// UpdateFunc mutates a private copy of the order. Returning an error aborts
// the update without writing anything.
type UpdateFunc func(o *oit.Order) error

// ListFilter selects a page of orders.
type ListFilter struct {
	Status oit.Status
	Limit  int
	Offset int
}

// Store is everything the pipeline, API and CLI need from persistence.
type Store interface {
	CreateOrder(ctx context.Context, o *oit.Order) error
	GetOrder(ctx context.Context, id string) (*oit.Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]*oit.Order, int, error)
	UpdateOrder(ctx context.Context, id string, fn UpdateFunc) (*oit.Order, error)
	StuckOrders(ctx context.Context, statuses []oit.Status, updatedBefore time.Time) ([]*oit.Order, error)

	AvailableResources(ctx context.Context, limit int) ([]oit.Resource, error)
	SetResourceStatus(ctx context.Context, id string, status oit.ResourceStatus) error

	SamplingTemplates(ctx context.Context) ([]oit.SamplingTemplate, error)
	StandardsByCategories(ctx context.Context, categories []string, embedding []float32) ([]oit.Standard, error)

	AssignEngineers(ctx context.Context, orderID string, userIDs []string) error
	AssignedEngineers(ctx context.Context, orderID string) ([]string, error)

	InsertNotification(ctx context.Context, n oit.Notification) error
	Notifications(ctx context.Context, userID string, limit int) ([]oit.Notification, error)
}

// versionedWriter is the conditional write half of UpdateOrder.
type versionedWriter interface {
	GetOrder(ctx context.Context, id string) (*oit.Order, error)
	writeIfVersion(ctx context.Context, o *oit.Order, expected int) (bool, error)
}

// updateWithRetry implements the read / mutate / conditional-write loop both
// store implementations share.
func updateWithRetry(ctx context.Context, w versionedWriter, id string, fn UpdateFunc) (*oit.Order, error) {
	for attempt := 0; attempt < MaxUpdateAttempts; attempt++ {
		current, err := w.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		ok, err := w.writeIfVersion(ctx, next, current.Version)
		if err != nil {
			return nil, eris.Wrapf(err, "write order %s", id)
		}
		if ok {
			next.Version = current.Version + 1
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, eris.Wrapf(ErrConflict, "order %s", id)
}
