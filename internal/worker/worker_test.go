package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
	"github.com/JakeFAU/movie-ingest/internal/search"
)

func TestWorker_Process_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []ingest.QueueItem{{
		RunID:  "run-success",
		Params: search.Params{Genre: search.GenreDrama, Pages: 2},
	}}}
	runs := newFakeRunStore()
	runner := &fakeRunner{result: ingest.Result{
		URL:      "https://example.com/search",
		Counters: ingest.RunCounters{Scraped: 3, Created: 2, Updated: 1},
	}}

	w := New(queue, runs, runner, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return runs.lastStatus() == ingest.RunStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	updates := runs.snapshot()
	require.Len(t, updates, 2)
	require.Equal(t, ingest.RunStatusRunning, updates[0].status)
	require.Equal(t, ingest.RunCounters{Scraped: 3, Created: 2, Updated: 1}, updates[1].result.Counters)
	require.Equal(t, []string{"run-success"}, runner.calls())
	require.Equal(t, search.GenreDrama, runner.lastParams().Genre)
}

func TestWorker_Process_RunnerFailureMarksRunFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []ingest.QueueItem{{RunID: "run-fail"}}}
	runs := newFakeRunStore()
	runner := &fakeRunner{err: errors.New("fetch search results: timeout")}

	go New(queue, runs, runner, zap.NewNop()).Run(ctx)

	require.Eventually(t, func() bool {
		return runs.lastStatus() == ingest.RunStatusFailed
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "fetch search results: timeout", runs.snapshot()[1].errText)
}

func TestWorker_Process_NoRunner(t *testing.T) {
	t.Parallel()

	runs := newFakeRunStore()
	w := New(&fakeQueue{}, runs, nil, nil)
	w.process(context.Background(), ingest.QueueItem{RunID: "run-x"})

	require.Equal(t, ingest.RunStatusFailed, runs.lastStatus())
	require.Equal(t, "no runner configured", runs.snapshot()[0].errText)
}

func TestWorker_Process_StatusUpdateFailureSkipsRun(t *testing.T) {
	t.Parallel()

	runs := newFakeRunStore()
	runs.err = ingest.ErrRunNotFound
	runner := &fakeRunner{}
	New(&fakeQueue{}, runs, runner, zap.NewNop()).process(context.Background(), ingest.QueueItem{RunID: "gone"})

	require.Empty(t, runner.calls())
}

func TestWorker_RecordsFinalStatusAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runs := newFakeRunStore()
	runner := &fakeRunner{block: true}
	w := New(&fakeQueue{}, runs, runner, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.process(ctx, ingest.QueueItem{RunID: "run-cancel"})
		close(done)
	}()
	require.Eventually(t, func() bool { return len(runner.calls()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("process did not return after cancel")
	}
	require.Equal(t, ingest.RunStatusFailed, runs.lastStatus())
	require.Contains(t, runs.snapshot()[1].errText, "context canceled")
}

func TestWorker_ExitsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	w := New(closedQueue{}, newFakeRunStore(), &fakeRunner{}, zap.NewNop())
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on closed queue")
	}
}

type fakeQueue struct {
	mu    sync.Mutex
	items []ingest.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item ingest.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (ingest.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ingest.QueueItem{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

type closedQueue struct{}

func (closedQueue) Enqueue(context.Context, ingest.QueueItem) error { return ingest.ErrQueueClosed }

func (closedQueue) Dequeue(context.Context) (ingest.QueueItem, error) {
	return ingest.QueueItem{}, ingest.ErrQueueClosed
}

type statusUpdate struct {
	runID   string
	status  ingest.RunStatus
	errText string
	result  ingest.Result
}

type fakeRunStore struct {
	mu       sync.Mutex
	statuses []statusUpdate
	err      error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{}
}

func (f *fakeRunStore) CreateRun(context.Context, ingest.Run) error {
	return nil
}

func (f *fakeRunStore) UpdateRun(
	_ context.Context,
	runID string,
	status ingest.RunStatus,
	errText string,
	result ingest.Result,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.statuses = append(f.statuses, statusUpdate{runID: runID, status: status, errText: errText, result: result})
	return nil
}

func (f *fakeRunStore) GetRun(context.Context, string) (ingest.Run, error) {
	return ingest.Run{}, ingest.ErrRunNotFound
}

func (f *fakeRunStore) lastStatus() ingest.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1].status
}

func (f *fakeRunStore) snapshot() []statusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusUpdate(nil), f.statuses...)
}

type fakeRunner struct {
	mu     sync.Mutex
	ids    []string
	params []search.Params
	result ingest.Result
	err    error
	block  bool
}

func (r *fakeRunner) Run(ctx context.Context, runID string, params search.Params) (ingest.Result, error) {
	r.mu.Lock()
	r.ids = append(r.ids, runID)
	r.params = append(r.params, params)
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return ingest.Result{RunID: runID}, fmt.Errorf("fetch search results: %w", ctx.Err())
	}
	res := r.result
	res.RunID = runID
	return res, r.err
}

func (r *fakeRunner) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func (r *fakeRunner) lastParams() search.Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params[len(r.params)-1]
}
