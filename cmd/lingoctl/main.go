// Command lingoctl runs one-off administrative operations against the platform's
// database: index bootstrap, funding audits, webhook replays and settings changes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"lingocrowd/core/internal/cache"
	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/db"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "lingoctl",
		Short:         "Administrative tooling for the crowdfunding platform",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(indexesCmd())
	rootCmd.AddCommand(fundingCmd())
	rootCmd.AddCommand(webhooksCmd())
	rootCmd.AddCommand(settingsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env holds the connections a command needs. close releases all of them.
type env struct {
	cfg      *config.Config
	client   *mongo.Client
	database *mongo.Database
	rdb      *redis.Client
}

func connect(ctx context.Context, withRedis bool) (*env, error) {
	cfg, err := config.Load("cli")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	client, database, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	e := &env{cfg: cfg, client: client, database: database}
	if withRedis {
		e.rdb, err = cache.ConnectRedis(ctx, cfg)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}
	return e, nil
}

func (e *env) close() {
	if e.rdb != nil {
		cache.DisconnectRedis(e.rdb)
	}
	db.DisconnectDB(e.client)
}

func indexesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Manage MongoDB indexes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create every index the application relies on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := connect(ctx, false)
			if err != nil {
				return err
			}
			defer e.close()

			if err := db.EnsureIndexes(ctx, e.database); err != nil {
				return fmt.Errorf("failed to ensure indexes: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Indexes are up to date")
			return nil
		},
	})
	return cmd
}
