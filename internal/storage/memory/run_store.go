package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
)

// RunStore provides an in-memory record of scrape runs.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]ingest.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]ingest.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run ingest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun sets the status, error text and result of a run. Started is stamped on the
// first transition to running and Finished on any terminal status.
func (s *RunStore) UpdateRun(
	_ context.Context,
	runID string,
	status ingest.RunStatus,
	errText string,
	result ingest.Result,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ingest.ErrRunNotFound
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = result.Counters
	if result.URL != "" {
		run.URL = result.URL
	}
	if result.SnapshotURI != "" {
		run.SnapshotURI = result.SnapshotURI
	}
	if result.ResultsHash != "" {
		run.ResultsHash = result.ResultsHash
	}
	now := s.now()
	if status == ingest.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if status.Terminal() {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (ingest.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return ingest.Run{}, ingest.ErrRunNotFound
	}
	return run, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
