package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dylan-vpa/serambienteai-sub000/internal/app"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
)

// appBackend adapts the wired service to the command surface.
type appBackend struct {
	a *app.App
}

func openApp(ctx context.Context) (Backend, error) {
	a, err := app.New(ctx)
	if err != nil {
		return nil, err
	}
	return appBackend{a}, nil
}

func (b appBackend) Migrate(ctx context.Context) error { return b.a.Store.Migrate(ctx) }

func (b appBackend) Reconcile(ctx context.Context, stuckAfter time.Duration) (int, error) {
	return b.a.Pipeline.Reconcile(ctx, stuckAfter)
}

func (b appBackend) SetStatus(ctx context.Context, orderID, adminID string, status oit.Status, reason string) (*oit.Order, error) {
	return b.a.Pipeline.SetStatus(ctx, orderID, adminID, status, reason)
}

func (b appBackend) VerifyConsistency(ctx context.Context, orderID string) (oit.ConsistencyResult, error) {
	return b.a.Pipeline.VerifyConsistency(ctx, orderID)
}

func (b appBackend) GenerateReport(ctx context.Context, orderID string, format report.Format, userID string) (string, error) {
	return b.a.Reports.Generate(ctx, orderID, format, userID)
}

func (b appBackend) Close() { b.a.Close() }

func main() {
	if err := NewRootCmd(openApp).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
