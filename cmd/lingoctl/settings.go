package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"lingocrowd/core/internal/services"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage runtime platform settings",
	}

	var public bool
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a platform setting and notify running instances",
		Long: `Set a platform setting. The value is stored as JSON when it parses as JSON
(numbers, booleans, objects) and as a plain string otherwise.

Examples:
  lingoctl settings set platform_fee_percent 0.075
  lingoctl settings set max_pledge_amount 500000 --public`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := connect(ctx, true)
			if err != nil {
				return err
			}
			defer e.close()

			value := parseSettingValue(args[1])
			settings := services.NewSettingsService(e.database, e.cfg, e.rdb)
			if err := settings.Set(ctx, args[0], value, public); err != nil {
				return fmt.Errorf("failed to set %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], value)
			return nil
		},
	}
	set.Flags().BoolVar(&public, "public", false, "expose the setting through GET /v1/config")

	cmd.AddCommand(set)
	return cmd
}

func parseSettingValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
