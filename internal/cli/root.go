// Package cli is the operator command line: schema migration, manual
// integrity sweeps, cleanup and snapshot verification.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"linkvault/internal/app"
	"linkvault/internal/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "linkvault-admin",
	Short: "Administer a linkvault archive",
	Long: `linkvault-admin runs maintenance tasks against the archive database
and snapshot store configured in the environment.`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// withApp loads the configuration, builds the application and runs fn.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	app.SetupLogger(cfg)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
