package cli

import (
	"github.com/spf13/cobra"

	"linkvault/internal/app"
)

var registerWebhookCmd = &cobra.Command{
	Use:   "register-webhook",
	Short: "Point change notifications at this server",
	Long: `Register PUBLIC_BASE_URL with changedetection.io as the notification
target for content changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			target, err := a.ChangeDetection.RegisterWebhook(cmd.Context())
			if err != nil {
				return err
			}
			printInfo("Notifications will be delivered to %s", target)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(registerWebhookCmd)
}
