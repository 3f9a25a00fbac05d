// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
)

// DefaultLoadMoreSelector matches the "50 more" button under the result list.
const DefaultLoadMoreSelector = "button.ipc-see-more__button"

const (
	defaultNavTimeout   = 90 * time.Second
	defaultIdleTimeout  = 15 * time.Second
	defaultQuietPeriod  = 500 * time.Millisecond
	defaultLoadMoreWait = 2 * time.Second
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// IdleTimeout bounds each wait for network idleness; hitting it is not an error.
	IdleTimeout time.Duration
	// QuietPeriod is how long the page must have no requests in flight to count as idle.
	QuietPeriod      time.Duration
	LoadMoreSelector string
	LoadMoreWait     time.Duration
	// NavigationsPerSecond caps page loads across all fetches; zero disables the limit.
	NavigationsPerSecond float64
	Headless             bool
}

// Fetcher implements ingest.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	navLimiter  *rate.Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser starts lazily
// on the first Fetch.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationsPerSecond < 0 {
		return nil, fmt.Errorf("navigations per second must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = defaultQuietPeriod
	}
	if cfg.LoadMoreWait <= 0 {
		cfg.LoadMoreWait = defaultLoadMoreWait
	}
	if cfg.LoadMoreSelector == "" {
		cfg.LoadMoreSelector = DefaultLoadMoreSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	var navLimiter *rate.Limiter
	if cfg.NavigationsPerSecond > 0 {
		navLimiter = rate.NewLimiter(rate.Limit(cfg.NavigationsPerSecond), 1)
	}

	headlessFlag := any("new")
	if !cfg.Headless {
		headlessFlag = false
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headlessFlag),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1366, 900),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		navLimiter:  navLimiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, shutting the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch loads the search page, clicks "load more" until request.Pages pages are shown
// (or the control disappears), and returns the final rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request ingest.FetchRequest) (ingest.Page, error) {
	if err := f.acquire(ctx); err != nil {
		return ingest.Page{}, err
	}
	defer f.release()

	if f.navLimiter != nil {
		if err := f.navLimiter.Wait(ctx); err != nil {
			return ingest.Page{}, fmt.Errorf("navigation rate limit: %w", err)
		}
	}

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	meta := newResponseMeta()
	tracker := newNetworkTracker(time.Now)
	chromedp.ListenTarget(taskCtx, func(ev any) {
		meta.captureEvent(ev)
		tracker.handle(ev)
	})

	start := time.Now()
	if err := chromedp.Run(taskCtx,
		f.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
	); err != nil {
		return ingest.Page{}, fmt.Errorf("chromedp navigate: %w", err)
	}
	f.waitIdle(taskCtx, tracker)

	clicks := f.loadMore(taskCtx, tracker, request)

	var html, finalURL string
	if err := chromedp.Run(taskCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return ingest.Page{}, fmt.Errorf("chromedp harvest: %w", err)
	}

	status, _, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	return ingest.Page{
		URL:          request.URL,
		FinalURL:     responseURL,
		StatusCode:   status,
		Body:         []byte(html),
		Clicks:       clicks,
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// loadMore clicks the load-more control up to pages-1 times and returns the click count.
func (f *Fetcher) loadMore(ctx context.Context, tracker *networkTracker, request ingest.FetchRequest) int {
	logger := f.logger.With(zap.String("url", request.URL))
	clicks := 0
	for page := 1; page < request.Pages; page++ {
		clicked, err := f.clickLoadMore(ctx)
		if err != nil {
			logger.Warn("load-more click failed", zap.Int("page", page), zap.Error(err))
			break
		}
		if !clicked {
			logger.Info("no load-more control found", zap.Int("page", page))
			break
		}
		clicks++
		logger.Info("load-more clicked", zap.Int("page", page))
		if err := chromedp.Run(ctx, chromedp.Sleep(f.cfg.LoadMoreWait)); err != nil {
			logger.Warn("load-more wait interrupted", zap.Error(err))
			break
		}
		f.waitIdle(ctx, tracker)
	}
	return clicks
}

func (f *Fetcher) clickLoadMore(ctx context.Context) (bool, error) {
	var visible bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(visibleScript(f.cfg.LoadMoreSelector), &visible)); err != nil {
		return false, fmt.Errorf("check load-more visibility: %w", err)
	}
	if !visible {
		return false, nil
	}
	if err := chromedp.Run(ctx,
		chromedp.ScrollIntoView(f.cfg.LoadMoreSelector, chromedp.ByQuery),
		chromedp.Click(f.cfg.LoadMoreSelector, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return false, fmt.Errorf("click load-more: %w", err)
	}
	return true, nil
}

func (f *Fetcher) waitIdle(ctx context.Context, tracker *networkTracker) {
	if !tracker.waitIdle(ctx, f.cfg.QuietPeriod, f.cfg.IdleTimeout) {
		f.logger.Debug("network did not settle before idle timeout",
			zap.Int("inflight", tracker.inflightCount()),
			zap.Duration("idle_timeout", f.cfg.IdleTimeout),
		)
	}
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// visibleScript returns a JS expression that is true when selector matches a rendered,
// visible element.
func visibleScript(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	const style = window.getComputedStyle(el);
	if (style.display === "none" || style.visibility === "hidden") return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
})()`, quoted)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

// capture records the first document response; later XHR-driven loads don't replace it.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, cloneHeader(m.headers), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
