package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamilpajak/heisenberg-heal/internal/config"
	"github.com/kamilpajak/heisenberg-heal/internal/database"
)

var (
	dbDown  bool
	dbLimit int
	dbSince time.Duration
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage and query the Postgres attempt store",
	Long: `Manage and query the Postgres attempt store configured under database.url.

Examples:
  heal db migrate
  heal db attempts "checkout.spec.ts:20" --limit 10
  heal db stats --since 168h`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply (or with --down, roll back) the schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := databaseURL()
		if err != nil {
			return err
		}
		if dbDown {
			if err := database.MigrateDown(url); err != nil {
				return err
			}
			fmt.Println("Schema rolled back")
			return nil
		}
		if err := database.Migrate(url); err != nil {
			return err
		}
		version, dirty, err := database.SchemaVersion(url)
		if err != nil {
			return err
		}
		fmt.Printf("Schema at version %d (dirty: %t)\n", version, dirty)
		return nil
	},
}

var dbAttemptsCmd = &cobra.Command{
	Use:   "attempts <test-id>",
	Short: "List stored attempts for a test, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *database.DB) error {
			attempts, err := db.ListAttemptsForTest(ctx, args[0], dbLimit)
			if err != nil {
				return err
			}
			return writeJSON(os.Stdout, attempts)
		})
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate stored attempts over a time window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *database.DB) error {
			counts, err := db.CountAttemptsSince(ctx, time.Now().Add(-dbSince))
			if err != nil {
				return err
			}
			return writeJSON(os.Stdout, counts)
		})
	},
}

var dbSnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored summary snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *database.DB) error {
			snapshots, err := db.ListSnapshots(ctx, dbLimit)
			if err != nil {
				return err
			}
			printHistory(os.Stdout, snapshots)
			return nil
		})
	},
}

func init() {
	dbMigrateCmd.Flags().BoolVar(&dbDown, "down", false, "Roll back every migration")
	dbCmd.PersistentFlags().IntVarP(&dbLimit, "limit", "n", 0, "Maximum rows to return (0 uses the default)")
	dbStatsCmd.Flags().DurationVar(&dbSince, "since", 30*24*time.Hour, "Window to aggregate")

	dbCmd.AddCommand(dbMigrateCmd, dbAttemptsCmd, dbStatsCmd, dbSnapshotsCmd)
}

func databaseURL() (string, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", errors.New("database.url is not configured")
	}
	return cfg.Database.URL, nil
}

func withDB(fn func(ctx context.Context, db *database.DB) error) error {
	url, err := databaseURL()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, url)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}
