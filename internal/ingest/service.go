package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/hash/sha256"
	"github.com/JakeFAU/movie-ingest/internal/metrics"
	"github.com/JakeFAU/movie-ingest/internal/movie"
	"github.com/JakeFAU/movie-ingest/internal/search"
)

const tracerName = "github.com/JakeFAU/movie-ingest/internal/ingest"

var (
	// ErrRunNotFound is returned by RunStore implementations for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrQueueClosed is returned by Queue implementations after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// Config controls Service behavior.
type Config struct {
	BaseURL      string
	MaxPages     int
	Headers      map[string]string
	SnapshotPath string
	ContentType  string
	Topic        string
	FetchMode    string
}

// Service executes scrape runs: build URL, fetch, extract, archive, upsert, notify.
type Service struct {
	fetcher   Fetcher
	extractor Extractor
	store     movie.Store
	blobStore BlobStore
	publisher Publisher
	clock     Clock
	cfg       Config
	logger    *zap.Logger
}

// NewService constructs a Service. blobStore and publisher may be nil.
func NewService(
	fetcher Fetcher,
	extractor Extractor,
	store movie.Store,
	blobStore BlobStore,
	publisher Publisher,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = "snapshots"
	}
	if cfg.FetchMode == "" {
		cfg.FetchMode = "headless"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		blobStore: blobStore,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Validate checks params against the service's limits.
func (s *Service) Validate(params search.Params) error {
	return params.Validate(s.clock.Now(), s.cfg.MaxPages)
}

// Run executes one scrape-and-upsert pass for params.
func (s *Service) Run(ctx context.Context, runID string, params search.Params) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ingest.Run",
		trace.WithAttributes(attribute.String("run.id", runID), attribute.String("fetch.mode", s.cfg.FetchMode)))
	defer span.End()

	start := s.clock.Now()
	result, err := s.run(ctx, runID, params)
	result.Duration = s.clock.Now().Sub(start)
	span.SetAttributes(
		attribute.String("search.url", result.URL),
		attribute.Int("movies.scraped", result.Counters.Scraped),
		attribute.Int("movies.created", result.Counters.Created),
		attribute.Int("movies.updated", result.Counters.Updated),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveRun("failed")
		return result, err
	}
	metrics.ObserveRun("succeeded")
	return result, nil
}

func (s *Service) run(ctx context.Context, runID string, params search.Params) (Result, error) {
	params = params.Normalize()
	result := Result{RunID: runID}
	if err := s.Validate(params); err != nil {
		return result, err
	}

	result.URL = search.BuildURL(s.cfg.BaseURL, params, s.clock.Now())
	logger := s.logger.With(zap.String("run_id", runID), zap.String("url", result.URL))
	logger.Info("scraping search results", zap.Int("pages", params.Pages))

	page, err := s.fetch(ctx, FetchRequest{
		URL:     result.URL,
		Pages:   params.Pages,
		Headers: toHeader(s.cfg.Headers),
	})
	if err != nil {
		return result, fmt.Errorf("fetch search results: %w", err)
	}
	metrics.ObserveFetch(s.cfg.FetchMode, page.Duration, page.Clicks)
	logger.Debug("page fetched",
		zap.Int("bytes", len(page.Body)),
		zap.Int("clicks", page.Clicks),
		zap.Duration("duration", page.Duration),
	)

	result.SnapshotURI = s.archive(ctx, logger, runID, page)

	movies, err := s.extractor.Extract(page.Body)
	if err != nil {
		return result, fmt.Errorf("extract movies: %w", err)
	}
	result.Counters.Scraped = len(movies)
	metrics.ObserveScraped(len(movies))
	logger.Info("scraped movies", zap.Int("count", len(movies)))

	movies, skipped := validMovies(logger, movies)
	result.Counters.Skipped = skipped
	if skipped > 0 {
		logger.Warn("skipped invalid movies", zap.Int("count", skipped))
	}

	if len(movies) == 0 {
		logger.Info("no movies to add or update")
	} else {
		result.ResultsHash = sha256.Fingerprint(movies)
		upserted, err := s.store.Upsert(ctx, movies)
		if err != nil {
			return result, fmt.Errorf("save movies: %w", err)
		}
		result.Counters.Created = upserted.Created
		result.Counters.Updated = upserted.Updated
		metrics.ObserveUpsert(upserted.Created, upserted.Updated)
		logger.Info("saved movies",
			zap.Int("created", upserted.Created),
			zap.Int("updated", upserted.Updated),
		)
	}

	s.notify(ctx, logger, result)
	return result, nil
}

// validMovies drops records the stores would reject, such as metadata longer than its
// column allows, so one bad item cannot abort the batch.
func validMovies(logger *zap.Logger, movies []movie.Movie) ([]movie.Movie, int) {
	valid := movies[:0:0]
	for _, m := range movies {
		if err := movie.Validate(m); err != nil {
			logger.Debug("invalid movie", zap.String("title", m.Title), zap.Error(err))
			continue
		}
		valid = append(valid, m)
	}
	return valid, len(movies) - len(valid)
}

func (s *Service) fetch(ctx context.Context, request FetchRequest) (Page, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ingest.Fetch",
		trace.WithAttributes(attribute.Int("fetch.pages", request.Pages)))
	defer span.End()
	page, err := s.fetcher.Fetch(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return page, err
	}
	span.SetAttributes(
		attribute.Int("http.status_code", page.StatusCode),
		attribute.Int("fetch.clicks", page.Clicks),
		attribute.Bool("fetch.headless", page.UsedHeadless),
	)
	return page, nil
}

func (s *Service) archive(ctx context.Context, logger *zap.Logger, runID string, page Page) string {
	if s.blobStore == nil || len(page.Body) == 0 {
		return ""
	}
	now := s.clock.Now().UTC()
	key := path.Join(s.cfg.SnapshotPath, now.Format("2006/01/02"), runID+".html")
	uri, err := s.blobStore.PutObject(ctx, key, s.cfg.ContentType, bytes.NewReader(page.Body))
	if err != nil {
		logger.Warn("snapshot upload failed", zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) notify(ctx context.Context, logger *zap.Logger, result Result) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	payload := Notification{
		Event:       EventScrapeCompleted,
		RunID:       result.RunID,
		URL:         result.URL,
		Counters:    result.Counters,
		SnapshotURI: result.SnapshotURI,
		ResultsHash: result.ResultsHash,
		FinishedAt:  s.clock.Now().UTC(),
	}
	publishCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := s.publisher.Publish(publishCtx, s.cfg.Topic, payload); err != nil {
		logger.Warn("publish notification failed", zap.Error(err))
	}
}
