package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lingocrowd/core/internal/payments"
	"lingocrowd/core/internal/realtime"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/tasks"
)

func webhooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect and replay stored payment provider events",
	}

	var limit int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List received events that were never applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := connect(ctx, false)
			if err != nil {
				return err
			}
			defer e.close()

			// Listing never applies anything, so no gateway or dispatcher is needed.
			svc := services.NewWebhookService(e.database, nil, nil)
			events, err := svc.ListUnprocessed(ctx, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No unprocessed events")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EVENT\tTYPE\tATTEMPTS\tRECEIVED\tERROR")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", ev.ProviderEventID, ev.Type, ev.Attempts, ev.ReceivedAt.Format("2006-01-02 15:04:05"), ev.ProcessingError)
			}
			return tw.Flush()
		},
	}
	list.Flags().Int64VarP(&limit, "limit", "n", 50, "maximum events to list")

	replay := &cobra.Command{
		Use:   "replay <event-id>",
		Short: "Re-apply a stored event that failed processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := connect(ctx, true)
			if err != nil {
				return err
			}
			defer e.close()

			// Live events reach API instances through the Redis relay; this process has
			// no local subscribers of its own.
			fanout := realtime.NewRedisFanout(realtime.NewHub(), e.rdb)
			taskClient := tasks.NewClient(e.cfg)
			defer taskClient.Close()

			gateway := payments.NewStripeGateway(e.cfg.StripeSecretKey, e.cfg.StripeWebhookSecret, e.cfg.GatewayTimeout, e.cfg.StripeWebhookTolerance)
			svc := services.NewWebhookService(e.database, services.NewDispatcher(e.database, fanout, taskClient), gateway)

			err = svc.ReplayEvent(ctx, args[0])
			switch {
			case errors.Is(err, services.ErrReplayNoop):
				fmt.Fprintf(cmd.OutOrStdout(), "Event %s was already applied\n", args[0])
				return nil
			case err != nil:
				return fmt.Errorf("replay of %s failed: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Event %s applied\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, replay)
	return cmd
}
