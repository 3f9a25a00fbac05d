package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/movie-ingest/internal/app"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the movie table and its case-insensitive title index",
		RunE: withApp(func(cmd *cobra.Command, _ []string, services *app.App) error {
			return services.Migrate(cmd.Context())
		}),
	}
}
