// Package app initializes and holds the long-lived services shared by the CLI
// commands: the movie store, snapshot storage, notification publisher, fetcher and
// the ingest service built on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/movie-ingest/internal/config"
	"github.com/JakeFAU/movie-ingest/internal/extract"
	autofetcher "github.com/JakeFAU/movie-ingest/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/movie-ingest/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/movie-ingest/internal/fetcher/headless"
	"github.com/JakeFAU/movie-ingest/internal/headless/detector"
	"github.com/JakeFAU/movie-ingest/internal/ingest"
	"github.com/JakeFAU/movie-ingest/internal/logging"
	"github.com/JakeFAU/movie-ingest/internal/movie"
	memorypublisher "github.com/JakeFAU/movie-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/movie-ingest/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/movie-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/movie-ingest/internal/storage/local"
	memorystorage "github.com/JakeFAU/movie-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/movie-ingest/internal/storage/postgres"
	"github.com/JakeFAU/movie-ingest/internal/telemetry"
)

const tracerShutdownTimeout = 5 * time.Second

// App holds the shared services. It is built once per command and closed when the
// command finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	opts   options

	tracer    *sdktrace.TracerProvider
	store     movie.Store
	pgStore   *pgstore.MovieStore
	blobStore ingest.BlobStore
	gcsClient *storage.Client
	publisher ingest.Publisher
	pubsub    *gcppublisher.Publisher
	headless  *headlessfetcher.Fetcher
	fetcher   ingest.Fetcher
	service   *ingest.Service
}

// Option customizes how New reaches external services.
type Option func(*options)

type options struct {
	gcs           []option.ClientOption
	pubsub        []option.ClientOption
	clock         ingest.Clock
	traceExporter sdktrace.SpanExporter
}

// WithGCSOptions passes client options to the Cloud Storage client.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcs = append(o.gcs, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsub = append(o.pubsub, opts...) }
}

// WithClock overrides the wall clock used by the ingest service.
func WithClock(clock ingest.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithTraceExporter sends spans to exp instead of Cloud Trace when tracing is enabled.
func WithTraceExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.traceExporter = exp }
}

// New builds every service named by cfg. Anything already opened is closed again if a
// later step fails.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, opts: options{clock: ingest.SystemClock{}}}
	for _, opt := range opts {
		opt(&a.opts)
	}
	a.logger.Info("initializing application services",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("pubsub_backend", cfg.PubSub.Backend),
		zap.String("scraper_mode", cfg.Scraper.Mode),
	)

	steps := []func(context.Context) error{
		a.setupTracing,
		a.setupStore,
		a.setupStorage,
		a.setupPublisher,
		a.setupFetcher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	topic := ""
	if cfg.PubSub.NotificationsEnabled() {
		topic = cfg.PubSub.Topic
	}
	a.service = ingest.NewService(
		a.fetcher,
		extract.New(extract.Selectors{}, a.logger.Named("extract")),
		a.store,
		a.blobStore,
		a.publisher,
		a.opts.clock,
		ingest.Config{
			BaseURL:     cfg.Scraper.BaseURL,
			MaxPages:    cfg.Scraper.MaxPages,
			Headers:     cfg.Scraper.Headers,
			ContentType: cfg.Storage.ContentType,
			Topic:       topic,
			FetchMode:   cfg.Scraper.Mode,
		},
		a.logger.Named("ingest"),
	)
	a.logger.Info("application services initialized")
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the movie store.
func (a *App) Store() movie.Store { return a.store }

// Service returns the scrape-and-upsert pipeline.
func (a *App) Service() *ingest.Service { return a.service }

// Migrate creates the movie table. Only the Postgres store has a schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pgStore == nil {
		a.logger.Info("movie store has no schema to migrate", zap.String("db_driver", a.cfg.DB.Driver))
		return nil
	}
	if err := a.pgStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate movie store: %w", err)
	}
	a.logger.Info("movie schema ready", zap.String("table", a.cfg.DB.Table))
	return nil
}

// Close releases every service the App opened. It is safe to call on a partially
// built App.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func (a *App) setupTracing(ctx context.Context) error {
	tc := a.cfg.Tracing
	if !tc.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: logging.ServiceName,
		ProjectID:   tc.ProjectID,
		SampleRatio: tc.SampleRatio,
		Exporter:    a.opts.traceExporter,
	})
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.tracer = tp
	a.logger.Info("tracing enabled",
		zap.String("project", tc.ProjectID),
		zap.Float64("sample_ratio", tc.SampleRatio),
	)
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case config.BackendPostgres:
		store, err := pgstore.NewMovieStore(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			Table:           a.cfg.DB.Table,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("movie store init failed: %w", err)
		}
		a.pgStore = store
		a.store = store
		a.logger.Info("using postgres movie store", zap.String("table", a.cfg.DB.Table))
	case config.BackendMemory:
		a.store = memorystorage.NewMovieStore()
		a.logger.Warn("using in-memory movie store, records are lost on exit")
	default:
		return fmt.Errorf("unknown db.driver %q", a.cfg.DB.Driver)
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "", config.BackendNone:
		a.logger.Info("snapshot archiving disabled")
	case config.BackendMemory:
		a.blobStore = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory snapshot storage")
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobStore = store
		a.logger.Info("using local snapshot storage", zap.String("path", a.cfg.Storage.BaseDir))
	case config.BackendGCS:
		client, err := storage.NewClient(ctx, a.opts.gcs...)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobStore = store
		a.logger.Info("using GCS snapshot storage", zap.String("bucket", a.cfg.Storage.Bucket))
	default:
		return fmt.Errorf("unknown storage.backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.cfg.PubSub.Backend {
	case "", config.BackendNone:
		a.logger.Info("run notifications disabled")
	case config.BackendMemory:
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory notification publisher", zap.String("topic", a.cfg.PubSub.Topic))
	case config.BackendPubSub:
		pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.opts.pubsub...)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.pubsub = pub
		a.publisher = pub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	default:
		return fmt.Errorf("unknown pubsub.backend %q", a.cfg.PubSub.Backend)
	}
	return nil
}

func (a *App) setupFetcher(context.Context) error {
	sc := a.cfg.Scraper
	switch sc.Mode {
	case config.ModeHeadless:
		if err := a.setupHeadless(); err != nil {
			return err
		}
		a.fetcher = a.headless
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", sc.MaxParallel))
	case config.ModeStatic:
		a.fetcher = a.newStatic()
		a.logger.Warn("using static fetcher, load more is unavailable so only the first page is scraped")
	case config.ModeAuto:
		if err := a.setupHeadless(); err != nil {
			return err
		}
		a.fetcher = autofetcher.New(
			a.newStatic(),
			a.headless,
			detector.NewHeuristic(0, ""),
			a.logger.Named("auto"),
		)
		a.logger.Info("using static fetcher with headless promotion", zap.Int("max_parallel", sc.MaxParallel))
	default:
		return errors.New("scraper.mode must be headless, static or auto")
	}
	return nil
}

func (a *App) setupHeadless() error {
	sc := a.cfg.Scraper
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:          sc.MaxParallel,
		UserAgent:            sc.UserAgent,
		NavigationTimeout:    sc.NavTimeout,
		IdleTimeout:          sc.IdleTimeout,
		LoadMoreWait:         sc.LoadMoreWait,
		NavigationsPerSecond: sc.NavigationsPerSecond,
		Headless:             sc.Headless,
	}, a.logger.Named("headless"))
	if err != nil {
		return fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.headless = fetcher
	return nil
}

func (a *App) newStatic() *collyfetcher.Fetcher {
	sc := a.cfg.Scraper
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:         sc.UserAgent,
		RespectRobots:     sc.RespectRobots,
		Timeout:           sc.RequestTimeout,
		RequestsPerSecond: sc.NavigationsPerSecond,
	}, a.logger.Named("colly"))
}
