// Package autofetcher tries a cheap static fetch first and falls back to the headless
// browser when the static page is not usable.
package autofetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
)

// Detector decides whether a statically fetched page needs a headless re-fetch.
type Detector interface {
	ShouldPromote(page ingest.Page) bool
}

// Fetcher implements ingest.Fetcher by composing a static and a headless fetcher.
type Fetcher struct {
	static   ingest.Fetcher
	headless ingest.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a Fetcher.
func New(static, headless ingest.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{static: static, headless: headless, detector: detector, logger: logger}
}

// Fetch sends multi-page requests straight to the headless fetcher, since only a
// browser can click "load more". Single-page requests go to the static fetcher and
// are promoted when it fails or the detector rejects the page.
func (f *Fetcher) Fetch(ctx context.Context, request ingest.FetchRequest) (ingest.Page, error) {
	if request.Pages > 1 {
		return f.fetchHeadless(ctx, request)
	}
	page, err := f.static.Fetch(ctx, request)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return ingest.Page{}, fmt.Errorf("static fetch: %w", err)
		}
		f.logger.Info("static fetch failed, promoting to headless", zap.String("url", request.URL), zap.Error(err))
	case f.detector.ShouldPromote(page):
		f.logger.Info("static page needs rendering, promoting to headless",
			zap.String("url", request.URL),
			zap.Int("bytes", len(page.Body)),
		)
	default:
		return page, nil
	}
	return f.fetchHeadless(ctx, request)
}

func (f *Fetcher) fetchHeadless(ctx context.Context, request ingest.FetchRequest) (ingest.Page, error) {
	page, err := f.headless.Fetch(ctx, request)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("headless fetch: %w", err)
	}
	return page, nil
}
