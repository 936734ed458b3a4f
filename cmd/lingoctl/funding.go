package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/tasks"
)

func fundingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "funding",
		Short: "Inspect project funding",
	}

	var fix, enqueue bool
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Compare every project's funding with its captured pledges",
		Long: `Compare current_funding of every project with the sum of its CAPTURED pledges.

Drifting projects are listed. With --fix they are rewritten to the captured sum.
With --enqueue the audit is handed to the background worker, which only logs drift.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if enqueue {
				if fix {
					return fmt.Errorf("--fix cannot be combined with --enqueue")
				}
				cfg, err := config.Load("cli")
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				client := tasks.NewClient(cfg)
				defer client.Close()
				if err := client.EnqueueFundingAudit(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Funding audit queued")
				return nil
			}
			e, err := connect(ctx, false)
			if err != nil {
				return err
			}
			defer e.close()

			drift, err := services.AuditFunding(ctx, e.database, fix)
			if err != nil {
				return fmt.Errorf("funding audit failed: %w", err)
			}
			printDrift(cmd.OutOrStdout(), drift)
			if len(drift) > 0 && !fix {
				return fmt.Errorf("%d project(s) drift from their captured pledges", len(drift))
			}
			return nil
		},
	}
	audit.Flags().BoolVar(&fix, "fix", false, "rewrite drifting projects to their captured sum")
	audit.Flags().BoolVar(&enqueue, "enqueue", false, "queue the audit for the background worker instead of running it here")
	cmd.AddCommand(audit)
	return cmd
}

func printDrift(w io.Writer, drift []services.FundingDrift) {
	if len(drift) == 0 {
		fmt.Fprintln(w, "No drift found")
		return
	}
	for _, d := range drift {
		status := "drift"
		if d.Fixed {
			status = "fixed"
		}
		fmt.Fprintf(w, "%s\tstored=%d\tcaptured=%d\t%s\n", d.ProjectID, d.Stored, d.Captured, status)
	}
}
