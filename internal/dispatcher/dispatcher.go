// Package dispatcher accepts scrape run submissions and drives the run workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
	"github.com/JakeFAU/movie-ingest/internal/search"
	"github.com/JakeFAU/movie-ingest/internal/worker"
)

const enqueueTimeout = 5 * time.Second

// Validator checks scrape parameters before a run is accepted.
type Validator interface {
	Validate(params search.Params) error
}

// Dispatcher records submitted runs, queues them and fans them out to workers.
type Dispatcher struct {
	queue     ingest.Queue
	runs      ingest.RunStore
	validator Validator
	idGen     ingest.IDGenerator
	clock     ingest.Clock
	workers   []*worker.Worker
}

// New creates a Dispatcher.
func New(
	queue ingest.Queue,
	runs ingest.RunStore,
	validator Validator,
	idGen ingest.IDGenerator,
	clock ingest.Clock,
	workers []*worker.Worker,
) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		runs:      runs,
		validator: validator,
		idGen:     idGen,
		clock:     clock,
		workers:   workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates params, records a queued run and enqueues it. Validation failures
// are returned unwrapped so callers can inspect the field errors.
func (d *Dispatcher) Submit(ctx context.Context, params search.Params) (ingest.Run, error) {
	params = params.Normalize()
	if d.validator != nil {
		if err := d.validator.Validate(params); err != nil {
			return ingest.Run{}, err
		}
	}
	runID, err := d.idGen.NewID()
	if err != nil {
		return ingest.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	now := d.clock.Now()
	run := ingest.Run{
		ID:        runID,
		Status:    ingest.RunStatusQueued,
		Params:    params,
		Submitted: now,
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return ingest.Run{}, fmt.Errorf("create run: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := ingest.QueueItem{RunID: runID, Params: params, Submitted: now.Unix()}
	if err := d.Enqueue(queueCtx, item); err != nil {
		if updateErr := d.runs.UpdateRun(context.WithoutCancel(ctx), runID, ingest.RunStatusFailed,
			err.Error(), ingest.Result{}); updateErr != nil {
			return ingest.Run{}, fmt.Errorf("%w (mark run failed: %v)", err, updateErr)
		}
		return ingest.Run{}, err
	}
	return run, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item ingest.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Get returns the recorded state of a run.
func (d *Dispatcher) Get(ctx context.Context, runID string) (ingest.Run, error) {
	run, err := d.runs.GetRun(ctx, runID)
	if err != nil {
		return ingest.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}
