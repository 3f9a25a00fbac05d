package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/app"
	"github.com/JakeFAU/movie-ingest/internal/id/uuid"
	"github.com/JakeFAU/movie-ingest/internal/search"
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape one search-results page and upsert the movies it lists",
		Long: `Builds the search URL from the given filters, renders it (clicking "load more"
for additional pages in headless mode), extracts the listed movies and upserts
them by title. The run summary is printed as JSON.`,
		Example: `  movieingest scrape --genre comedy --user-rating 7.5 --pages 3`,
		RunE:    withApp(runScrape),
	}
	flags := cmd.Flags()
	flags.String("genre", "", fmt.Sprintf("genre filter, one of %v (required)", search.Genres))
	flags.String("title-type", string(search.TitleTypeFeature), fmt.Sprintf("title type, one of %v", search.TitleTypes))
	flags.Float64("user-rating", 0, "minimum user rating between 1.0 and 10.0")
	flags.Int("num-votes", 0, "minimum number of votes")
	flags.Int("release-year", 0, "earliest release year")
	flags.Int("pages", search.DefaultPages, "number of result pages to load")
	_ = cmd.MarkFlagRequired("genre")
	return cmd
}

func runScrape(cmd *cobra.Command, _ []string, services *app.App) error {
	params, err := paramsFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	service := services.Service()
	if err := service.Validate(params); err != nil {
		return err
	}
	runID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}

	result, err := service.Run(cmd.Context(), runID, params)
	if err != nil {
		return fmt.Errorf("scrape run %s: %w", runID, err)
	}
	services.Logger().Info("scrape finished",
		zap.String("run_id", runID),
		zap.Int("scraped", result.Counters.Scraped),
		zap.Int("created", result.Counters.Created),
		zap.Int("updated", result.Counters.Updated),
		zap.Int("skipped", result.Counters.Skipped),
		zap.String("results_sha256", result.ResultsHash),
		zap.Duration("duration", result.Duration),
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"run_id":         result.RunID,
		"url":            result.URL,
		"counters":       result.Counters,
		"snapshot_uri":   result.SnapshotURI,
		"results_sha256": result.ResultsHash,
	}); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// paramsFromFlags maps the scrape flags onto search.Params. Optional filters stay nil
// unless their flag was set.
func paramsFromFlags(flags *pflag.FlagSet) (search.Params, error) {
	genreFlag, err := flags.GetString("genre")
	if err != nil {
		return search.Params{}, fmt.Errorf("read --genre: %w", err)
	}
	genre, err := search.ParseGenre(genreFlag)
	if err != nil {
		return search.Params{}, err
	}
	titleTypeFlag, err := flags.GetString("title-type")
	if err != nil {
		return search.Params{}, fmt.Errorf("read --title-type: %w", err)
	}
	titleType, err := search.ParseTitleType(titleTypeFlag)
	if err != nil {
		return search.Params{}, err
	}
	pages, err := flags.GetInt("pages")
	if err != nil {
		return search.Params{}, fmt.Errorf("read --pages: %w", err)
	}
	params := search.Params{Genre: genre, TitleType: titleType, Pages: pages}

	if flags.Changed("user-rating") {
		v, err := flags.GetFloat64("user-rating")
		if err != nil {
			return search.Params{}, fmt.Errorf("read --user-rating: %w", err)
		}
		params.UserRating = &v
	}
	if flags.Changed("num-votes") {
		v, err := flags.GetInt("num-votes")
		if err != nil {
			return search.Params{}, fmt.Errorf("read --num-votes: %w", err)
		}
		params.NumVotes = &v
	}
	if flags.Changed("release-year") {
		v, err := flags.GetInt("release-year")
		if err != nil {
			return search.Params{}, fmt.Errorf("read --release-year: %w", err)
		}
		params.ReleaseYear = &v
	}
	return params, nil
}
