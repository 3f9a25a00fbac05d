package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/movie-ingest/internal/app"
	"github.com/JakeFAU/movie-ingest/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the movie REST API and run queued scrapes",
		Long: `Starts the HTTP server on server.port. Stored movies are served under
/v1/movies and scrape runs are queued through /v1/scrapes and executed one at a
time by a background worker. SIGINT or SIGTERM triggers a graceful shutdown.`,
		RunE: withApp(runServe),
	}
}

func runServe(cmd *cobra.Command, _ []string, services *app.App) error {
	if err := server.Build(services).Run(cmd.Context()); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
