package cli

import (
	"fmt"

	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/spf13/cobra"

	"linkvault/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the database schema",
	Long:  `Create or update the archive tables and the River job queue tables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			if err := a.Migrate(); err != nil {
				return err
			}
			printInfo("Archive schema up to date")

			migrator, err := rivermigrate.New(riverpgxv5.New(a.Pool), nil)
			if err != nil {
				return fmt.Errorf("create river migrator: %w", err)
			}
			res, err := migrator.Migrate(cmd.Context(), rivermigrate.DirectionUp, nil)
			if err != nil {
				return fmt.Errorf("migrate river: %w", err)
			}
			for _, v := range res.Versions {
				printInfo("Applied River migration %03d", v.Version)
			}
			printInfo("Queue schema up to date")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
