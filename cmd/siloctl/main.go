// Command siloctl manages the silo database and follows a running server's
// silo registry from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/guruprasath0306/Silo-Monitor/internal/config"
	"github.com/guruprasath0306/Silo-Monitor/internal/logging"
)

const appName = "siloctl"

var version = "dev"

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "siloctl",
	Short:         "Silo monitor maintenance and watch tool",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		var err error
		cfg, err = config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger = logging.NewWithWriter(os.Stderr, cfg, version, appName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "siloctl: %v\n", err)
		os.Exit(1)
	}
}
