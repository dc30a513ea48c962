package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"linkvault/internal/app"
	"linkvault/internal/models"
	"linkvault/internal/workers"
)

var requeueMinAge time.Duration

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Enqueue captures for links still pending",
	Long: `Find links whose capture never ran, for example because the queue
was wiped, and enqueue an archive job for each.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			if _, err := workers.NewRiverClient(a.Pool, a.WorkerConfig(), a.WorkerDeps()); err != nil {
				return fmt.Errorf("create river client: %w", err)
			}

			var pending []models.Link
			err := a.DB.WithContext(cmd.Context()).
				Where("status = ? AND updated_at < ?", models.LinkPending, time.Now().Add(-requeueMinAge)).
				Order("id").
				Find(&pending).Error
			if err != nil {
				return fmt.Errorf("find pending links: %w", err)
			}
			printInfo("Found %d pending links", len(pending))

			queued, skipped := 0, 0
			for _, link := range pending {
				if err := a.Queue.EnqueueArchive(cmd.Context(), link.ID, ""); err != nil {
					printWarning("link %d (%s): %v", link.ID, link.Shortcode, err)
					skipped++
					continue
				}
				queued++
			}
			printInfo("Requeue completed: %d queued, %d skipped", queued, skipped)
			return nil
		})
	},
}

func init() {
	requeueCmd.Flags().DurationVar(&requeueMinAge, "min-age", 5*time.Minute, "skip links updated more recently than this")
	rootCmd.AddCommand(requeueCmd)
}
