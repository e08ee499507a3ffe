package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guruprasath0306/Silo-Monitor/internal/db"
	"github.com/guruprasath0306/Silo-Monitor/internal/migrate"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/defaults"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/repository"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Open(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(conn) }()

		ctx := cmd.Context()
		pending, err := migrate.Pending(ctx, conn)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(pending) == 0 {
			fmt.Fprintln(out, "schema is up to date")
			return nil
		}
		for _, v := range pending {
			fmt.Fprintln(out, "pending:", v)
		}
		if migrateDryRun {
			return nil
		}
		if err := migrate.Run(ctx, conn); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d migrations applied\n", len(pending))
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill an empty silos table with the bundled silo list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Open(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(conn) }()

		ctx := cmd.Context()
		if err := migrate.Run(ctx, conn); err != nil {
			return err
		}
		repo := repository.NewRepository(conn)
		rows, err := repo.List(ctx)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "silos table already has %d rows, nothing to do\n", len(rows))
			return nil
		}
		inserted, err := repo.InsertMany(ctx, defaults.SeedRows())
		if err != nil {
			return fmt.Errorf("seed silos: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d silos\n", len(inserted))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "list pending migrations without applying them")
}
