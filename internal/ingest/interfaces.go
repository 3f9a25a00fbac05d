package ingest

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/movie-ingest/internal/movie"
)

// Fetcher retrieves a search-results page and returns its rendered HTML.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// Extractor turns rendered HTML into movie records.
type Extractor interface {
	Extract(html []byte) ([]movie.Movie, error)
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists scrape run records.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, errText string, result Result) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// Queue provides enqueue/dequeue semantics for scrape runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
