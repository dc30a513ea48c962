package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"linkvault/internal/app"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <shortcode>...",
	Short: "Verify stored snapshots against their checksums",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			bad := 0
			for _, shortcode := range args {
				sum, ok, err := a.Service.VerifyLink(cmd.Context(), shortcode)
				switch {
				case err != nil:
					printError("%s: %v", shortcode, err)
					bad++
				case !ok:
					printWarning("%s: checksum mismatch (now %s)", shortcode, sum)
					bad++
				default:
					printInfo("%s: ok %s", shortcode, sum)
				}
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d snapshots failed verification", bad, len(args))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
