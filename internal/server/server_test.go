package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/app"
	"github.com/JakeFAU/movie-ingest/internal/config"
	"github.com/JakeFAU/movie-ingest/internal/search"
)

func newServices(t *testing.T, baseURL string) *app.App {
	t.Helper()
	cfg := config.Config{
		Server: config.ServerConfig{QueueDepth: 2, ShutdownTimeout: time.Second},
		Scraper: config.ScraperConfig{
			Mode:           config.ModeStatic,
			BaseURL:        baseURL,
			MaxPages:       search.DefaultMaxPages,
			RequestTimeout: 5 * time.Second,
		},
		DB: config.DBConfig{Driver: config.BackendMemory},
	}
	services, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(services.Close)
	return services
}

func TestServeRunsQueuedScrapes(t *testing.T) {
	t.Parallel()

	html, err := os.ReadFile("../extract/testdata/search_results.html")
	require.NoError(t, err)
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(html)
	}))
	defer site.Close()

	srv := Build(newServices(t, site.URL+"/search/title/"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Post(base+"/v1/scrapes", "application/json", bytes.NewBufferString(`{"genre":"comedy"}`))
	require.NoError(t, err)
	var accepted struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, accepted.RunID)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/v1/scrapes/" + accepted.RunID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Run struct {
				Status string `json:"status"`
			} `json:"run"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return body.Run.Status == "succeeded"
	}, 10*time.Second, 20*time.Millisecond)

	resp, err = http.Get(base + "/v1/movies")
	require.NoError(t, err)
	var listed struct {
		Movies []map[string]any `json:"movies"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Movies, 3)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHandlerServesHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := Build(newServices(t, search.DefaultBaseURL))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
