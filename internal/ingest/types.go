// Package ingest runs the scrape-and-upsert pipeline and defines the types shared by
// its fetchers, stores and workers.
package ingest

import (
	"net/http"
	"time"

	"github.com/JakeFAU/movie-ingest/internal/search"
)

// RunStatus is the lifecycle state of a scrape run.
type RunStatus string

// Run status values.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// FetchRequest describes one page retrieval.
type FetchRequest struct {
	URL string
	// Pages is the number of result pages wanted; pages beyond the first are
	// loaded by clicking the "load more" control.
	Pages   int
	Headers http.Header
}

// Page is the rendered HTML returned by a Fetcher.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Body         []byte
	Clicks       int
	Duration     time.Duration
	UsedHeadless bool
}

// RunCounters tracks what a run produced.
type RunCounters struct {
	Scraped int `json:"scraped"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	// Skipped counts scraped records that failed validation and were not saved.
	Skipped int `json:"skipped,omitempty"`
}

// Run is the record kept for each scrape execution.
type Run struct {
	ID          string        `json:"id"`
	Status      RunStatus     `json:"status"`
	Params      search.Params `json:"params"`
	URL         string        `json:"url,omitempty"`
	Submitted   time.Time     `json:"submitted_at"`
	Started     *time.Time    `json:"started_at,omitempty"`
	Finished    *time.Time    `json:"finished_at,omitempty"`
	Counters    RunCounters   `json:"counters"`
	SnapshotURI string        `json:"snapshot_uri,omitempty"`
	ResultsHash string        `json:"results_sha256,omitempty"`
	ErrorText   string        `json:"error_text,omitempty"`
}

// Result is what Service.Run reports for a finished run.
type Result struct {
	RunID       string
	URL         string
	Counters    RunCounters
	SnapshotURI string
	// ResultsHash fingerprints the extracted records; equal hashes mean the search
	// returned the same data.
	ResultsHash string
	Duration    time.Duration
}

// Notification is published after each successful run.
type Notification struct {
	Event       string      `json:"event"`
	RunID       string      `json:"run_id"`
	URL         string      `json:"url"`
	Counters    RunCounters `json:"counters"`
	SnapshotURI string      `json:"snapshot_uri,omitempty"`
	ResultsHash string      `json:"results_sha256,omitempty"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// EventScrapeCompleted names the completion notification.
const EventScrapeCompleted = "scrape.completed"

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Params    search.Params
	Submitted int64
}
