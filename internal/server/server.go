// Package server assembles the long-running HTTP service: the REST API, the scrape
// queue and the worker that drains it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/api"
	"github.com/JakeFAU/movie-ingest/internal/app"
	"github.com/JakeFAU/movie-ingest/internal/config"
	"github.com/JakeFAU/movie-ingest/internal/dispatcher"
	"github.com/JakeFAU/movie-ingest/internal/id/uuid"
	"github.com/JakeFAU/movie-ingest/internal/ingest"
	queueMemory "github.com/JakeFAU/movie-ingest/internal/queue/memory"
	memorystorage "github.com/JakeFAU/movie-ingest/internal/storage/memory"
	"github.com/JakeFAU/movie-ingest/internal/worker"
)

const defaultShutdownTimeout = 10 * time.Second

// Server owns the HTTP listener and the scrape dispatcher.
type Server struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	http      *http.Server
}

// Build wires the API and a single sequential scrape worker on top of services.
func Build(services *app.App) *Server {
	cfg := services.Config()
	logger := services.Logger()

	queue := queueMemory.NewQueue(cfg.Server.QueueDepth)
	runs := memorystorage.NewRunStore()
	service := services.Service()
	workers := []*worker.Worker{
		worker.New(queue, runs, service, logger.Named("worker")),
	}
	dispatch := dispatcher.New(queue, runs, service, uuid.NewUUIDGenerator(), ingest.SystemClock{}, workers)
	apiServer := api.NewServer(services.Store(), dispatch, cfg, logger)

	return &Server{
		cfg:       cfg,
		logger:    logger,
		apiServer: apiServer,
		dispatch:  dispatch,
		queue:     queue,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
	}
}

// Handler exposes the API handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.apiServer.Handler()
}

// Run serves HTTP on the configured port until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and starts the dispatcher. It blocks until ctx is
// canceled or the listener fails, then drains in-flight requests and stops the worker.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		s.logger.Info("dispatcher started")
		s.dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	s.logger.Info("shutdown initiated")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
	}
	s.queue.Close()
	<-dispatchDone
	s.logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}
