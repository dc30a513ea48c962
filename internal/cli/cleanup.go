package cli

import (
	"time"

	"github.com/spf13/cobra"

	"linkvault/internal/app"
	"linkvault/internal/workers"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove abandoned captures",
	Long: `Delete capture directories that never received a primary file and mark
links stuck in pending as failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			w := workers.NewCleanupWorker(a.DB, a.Store)
			if err := w.RunCleanup(cmd.Context(), cleanupOlderThan, time.Now()); err != nil {
				return err
			}
			printInfo("Cleanup complete")
			return nil
		})
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", workers.DefaultCleanupAge, "minimum age of an abandoned capture")
	rootCmd.AddCommand(cleanupCmd)
}
