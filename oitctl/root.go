package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
)

// version is set at build time via -ldflags.
var version = "dev"

// Backend is the service surface the operator commands drive.
type Backend interface {
	Migrate(ctx context.Context) error
	Reconcile(ctx context.Context, stuckAfter time.Duration) (int, error)
	SetStatus(ctx context.Context, orderID, adminID string, status oit.Status, reason string) (*oit.Order, error)
	VerifyConsistency(ctx context.Context, orderID string) (oit.ConsistencyResult, error)
	GenerateReport(ctx context.Context, orderID string, format report.Format, userID string) (string, error)
	Close()
}

// Opener builds a Backend on first use so that --help never touches AWS.
type Opener func(ctx context.Context) (Backend, error)

// NewRootCmd assembles the oitctl command tree.
func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "oitctl",
		Short:         "Operate the OIT sampling workflow",
		Long:          "oitctl runs schema migrations, sweeps stuck orders and performs\nadministrative actions on work orders.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.AddCommand(
		MigrateCmd(open),
		ReconcileCmd(open),
		StatusCmd(open),
		VerifyCmd(open),
		ReportCmd(open),
	)
	return root
}

// withBackend opens the backend, runs fn and releases it.
func withBackend(cmd *cobra.Command, open Opener, fn func(ctx context.Context, b Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := open(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}
