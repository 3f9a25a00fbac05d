// Package worker executes queued scrape runs one at a time.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
	"github.com/JakeFAU/movie-ingest/internal/search"
)

// Runner executes a single scrape run. *ingest.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, runID string, params search.Params) (ingest.Result, error)
}

// Worker consumes queue items and records each run's lifecycle in the RunStore.
type Worker struct {
	queue  ingest.Queue
	runs   ingest.RunStore
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue ingest.Queue, runs ingest.RunStore, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		runs:   runs,
		runner: runner,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ingest.ErrQueueClosed) {
				w.logger.Info("queue closed; worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item ingest.QueueItem) {
	logger := w.logger.With(zap.String("run_id", item.RunID))
	if w.runner == nil {
		logger.Error("no runner configured")
		w.finish(ctx, logger, item.RunID, ingest.RunStatusFailed, "no runner configured", ingest.Result{})
		return
	}
	if err := w.runs.UpdateRun(ctx, item.RunID, ingest.RunStatusRunning, "", ingest.Result{}); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		return
	}

	result, err := w.runner.Run(ctx, item.RunID, item.Params)
	if err != nil {
		logger.Error("scrape run failed", zap.Error(err))
		w.finish(ctx, logger, item.RunID, ingest.RunStatusFailed, err.Error(), result)
		return
	}
	logger.Info("scrape run succeeded",
		zap.Int("scraped", result.Counters.Scraped),
		zap.Int("created", result.Counters.Created),
		zap.Int("updated", result.Counters.Updated),
		zap.Duration("duration", result.Duration),
	)
	w.finish(ctx, logger, item.RunID, ingest.RunStatusSucceeded, "", result)
}

// finish records the terminal status even when ctx was canceled mid-run.
func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	status ingest.RunStatus,
	errText string,
	result ingest.Result,
) {
	if err := w.runs.UpdateRun(context.WithoutCancel(ctx), runID, status, errText, result); err != nil {
		logger.Error("final run status update failed", zap.Error(err))
	}
}
