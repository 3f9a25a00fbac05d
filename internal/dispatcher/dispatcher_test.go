package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
	"github.com/JakeFAU/movie-ingest/internal/queue/memory"
	"github.com/JakeFAU/movie-ingest/internal/search"
	storemem "github.com/JakeFAU/movie-ingest/internal/storage/memory"
	"github.com/JakeFAU/movie-ingest/internal/worker"
)

var fixedNow = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return fixedNow }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type paramsValidator struct{}

func (paramsValidator) Validate(p search.Params) error { return p.Validate(fixedNow, 5) }

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, storemem.NewRunStore(), nil, zap.NewNop())
	dispatch := New(queue, storemem.NewRunStore(), nil, &seqIDs{}, fixedClock{}, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherSubmitRecordsAndQueues(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(4)
	runs := storemem.NewRunStore()
	dispatch := New(queue, runs, paramsValidator{}, &seqIDs{}, fixedClock{}, nil)

	run, err := dispatch.Submit(context.Background(), search.Params{Genre: search.GenreHorror})
	require.NoError(t, err)
	require.Equal(t, "run-1", run.ID)
	require.Equal(t, ingest.RunStatusQueued, run.Status)
	require.Equal(t, search.TitleTypeFeature, run.Params.TitleType)
	require.Equal(t, 1, run.Params.Pages)

	stored, err := dispatch.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, fixedNow, stored.Submitted)

	item, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", item.RunID)
	require.Equal(t, fixedNow.Unix(), item.Submitted)
}

func TestDispatcherSubmitRejectsInvalidParams(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(1)
	dispatch := New(queue, storemem.NewRunStore(), paramsValidator{}, &seqIDs{}, fixedClock{}, nil)

	_, err := dispatch.Submit(context.Background(), search.Params{Genre: "western"})
	var verr *search.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "genre")
	require.Zero(t, queue.Len())
}

func TestDispatcherSubmitMarksRunFailedWhenQueueRejects(t *testing.T) {
	t.Parallel()

	runs := storemem.NewRunStore()
	dispatch := New(&errorQueue{err: errors.New("boom")}, runs, nil, &seqIDs{}, fixedClock{}, nil)

	_, err := dispatch.Submit(context.Background(), search.Params{Genre: search.GenreAction})
	require.EqualError(t, err, "queue enqueue: boom")

	run, err := runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, ingest.RunStatusFailed, run.Status)
}

func TestDispatcherGetUnknownRun(t *testing.T) {
	t.Parallel()

	dispatch := New(memory.NewQueue(1), storemem.NewRunStore(), nil, &seqIDs{}, fixedClock{}, nil)
	_, err := dispatch.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ingest.ErrRunNotFound)
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, nil, nil, nil, nil)

	err := dispatch.Enqueue(context.Background(), ingest.QueueItem{RunID: "run"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ ingest.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (ingest.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ingest.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, ingest.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (ingest.QueueItem, error) {
	return ingest.QueueItem{}, nil
}
