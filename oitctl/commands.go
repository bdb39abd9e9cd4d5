package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
)

// MigrateCmd applies the database schema.
func MigrateCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				if err := b.Migrate(ctx); err != nil {
					return eris.Wrap(err, "migrate")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

// ReconcileCmd moves orders stuck in a processing status to their failure
// status.
func ReconcileCmd(open Opener) *cobra.Command {
	var stuckAfter time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fail orders stuck in UPLOADING or ANALYZING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if stuckAfter <= 0 {
				return eris.New("--stuck-after must be positive")
			}
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				moved, err := b.Reconcile(ctx, stuckAfter)
				if err != nil {
					return eris.Wrap(err, "reconcile")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d orders moved\n", moved)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&stuckAfter, "stuck-after", 30*time.Minute, "age after which a processing order counts as stuck")
	return cmd
}

// StatusCmd groups the status overrides.
func StatusCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect or override order statuses",
	}
	cmd.AddCommand(statusSetCmd(open))
	return cmd
}

func statusSetCmd(open Opener) *cobra.Command {
	var reason, admin string
	cmd := &cobra.Command{
		Use:   "set <order-id> <status>",
		Short: "Force an order into a status, bypassing the lifecycle graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := oit.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				o, err := b.SetStatus(ctx, args[0], admin, status, reason)
				if err != nil {
					return eris.Wrapf(err, "set status of %s", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", o.ID, o.Status)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&reason, "reason", "", "reason shown to the order creator")
	f.StringVar(&admin, "admin", "", "administrator user id (required)")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

// VerifyCmd runs the consistency check and prints the result.
func VerifyCmd(open Opener) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "verify <order-id>",
		Short: "Cross-check an order's documents and sampling data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "yaml" {
				return eris.Errorf("unknown output format %q", output)
			}
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				res, err := b.VerifyConsistency(ctx, args[0])
				if err != nil {
					return eris.Wrapf(err, "verify %s", args[0])
				}
				return printResult(cmd, output, res)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

func printResult(cmd *cobra.Command, output string, res oit.ConsistencyResult) error {
	out := cmd.OutOrStdout()
	if output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	// Round-trip through JSON so the YAML keys match the API's field names.
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(doc)
}

// ReportCmd renders the final report synchronously.
func ReportCmd(open Opener) *cobra.Command {
	var format, user string
	cmd := &cobra.Command{
		Use:   "report <order-id>",
		Short: "Generate the final report of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := report.ParseFormat(format)
			if !ok {
				return eris.Errorf("format must be docx or pdf, got %q", format)
			}
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				key, err := b.GenerateReport(ctx, args[0], f, user)
				if err != nil {
					return eris.Wrapf(err, "report %s", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&format, "format", "docx", "docx or pdf")
	f.StringVar(&user, "user", "", "user to notify when the report is ready")
	return cmd
}
