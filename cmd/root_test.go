package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/movie-ingest/internal/config"
	"github.com/JakeFAU/movie-ingest/internal/search"
)

func scrapeFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	cmd := newScrapeCmd()
	require.NoError(t, cmd.ParseFlags(args))
	return cmd.Flags()
}

func TestParamsFromFlags(t *testing.T) {
	t.Parallel()

	params, err := paramsFromFlags(scrapeFlags(t,
		"--genre", "Comedy", "--title-type", "tv_series", "--user-rating", "7.5",
		"--num-votes", "1000", "--release-year", "2010", "--pages", "3",
	))
	require.NoError(t, err)
	require.Equal(t, search.GenreComedy, params.Genre)
	require.Equal(t, search.TitleTypeTVSeries, params.TitleType)
	require.InDelta(t, 7.5, *params.UserRating, 1e-9)
	require.Equal(t, 1000, *params.NumVotes)
	require.Equal(t, 2010, *params.ReleaseYear)
	require.Equal(t, 3, params.Pages)
}

func TestParamsFromFlagsDefaults(t *testing.T) {
	t.Parallel()

	params, err := paramsFromFlags(scrapeFlags(t, "--genre", "horror"))
	require.NoError(t, err)
	require.Equal(t, search.TitleTypeFeature, params.TitleType)
	require.Nil(t, params.UserRating)
	require.Nil(t, params.NumVotes)
	require.Nil(t, params.ReleaseYear)
	require.Equal(t, search.DefaultPages, params.Pages)
}

func TestParamsFromFlagsRejectsUnknownValues(t *testing.T) {
	t.Parallel()

	_, err := paramsFromFlags(scrapeFlags(t, "--genre", "western"))
	require.ErrorContains(t, err, "invalid genre")

	_, err = paramsFromFlags(scrapeFlags(t, "--genre", "drama", "--title-type", "movie"))
	require.ErrorContains(t, err, "invalid title type")
}

// useConfig points the root command at cfg for the duration of the test.
func useConfig(t *testing.T, cfg config.Config) {
	t.Helper()
	prev := loadConfig
	loadConfig = func(string) (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = prev })
}

func memoryConfig(baseURL string) config.Config {
	return config.Config{
		Scraper: config.ScraperConfig{
			Mode:           config.ModeStatic,
			BaseURL:        baseURL,
			MaxPages:       search.DefaultMaxPages,
			RequestTimeout: 5 * time.Second,
		},
		DB:      config.DBConfig{Driver: config.BackendMemory},
		Storage: config.StorageConfig{Backend: config.BackendMemory},
		Logging: config.LoggingConfig{Level: "error"},
	}
}

func TestScrapeCommandPrintsSummary(t *testing.T) {
	html, err := os.ReadFile("../internal/extract/testdata/search_results.html")
	require.NoError(t, err)
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(html)
	}))
	defer site.Close()
	useConfig(t, memoryConfig(site.URL+"/search/title/"))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"scrape", "--genre", "comedy", "--user-rating", "8"})
	require.NoError(t, root.Execute())

	var summary struct {
		RunID       string         `json:"run_id"`
		URL         string         `json:"url"`
		Counters    map[string]int `json:"counters"`
		SnapshotURI string         `json:"snapshot_uri"`
		ResultsHash string         `json:"results_sha256"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	require.NotEmpty(t, summary.RunID)
	require.Equal(t, site.URL+"/search/title/?title_type=feature&genres=comedy&user_rating=8,10", summary.URL)
	require.Equal(t, 3, summary.Counters["scraped"])
	require.Equal(t, 3, summary.Counters["created"])
	require.Len(t, summary.ResultsHash, 64)
	require.Contains(t, summary.SnapshotURI, summary.RunID+".html")
}

func TestScrapeCommandRejectsInvalidParams(t *testing.T) {
	useConfig(t, memoryConfig(search.DefaultBaseURL))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"scrape", "--genre", "comedy", "--pages", "80"})
	err := root.Execute()

	var verr *search.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "pages")
}

func TestMigrateCommandWithMemoryStore(t *testing.T) {
	useConfig(t, memoryConfig(search.DefaultBaseURL))

	root := newRootCmd()
	root.SetArgs([]string{"migrate"})
	require.NoError(t, root.Execute())
}
