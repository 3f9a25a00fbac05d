package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}, nil); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	if _, err := NewChromedp(Config{NavigationsPerSecond: -1}, nil); err == nil {
		t.Fatal("expected error for negative navigation rate")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2, NavigationsPerSecond: 0.5}, zap.NewNop())
	require.NoError(t, err)
	defer fetcher.Close()

	require.Equal(t, 2, cap(fetcher.limiter))
	require.NotNil(t, fetcher.navLimiter)
	require.Equal(t, DefaultLoadMoreSelector, fetcher.cfg.LoadMoreSelector)
	require.Equal(t, defaultLoadMoreWait, fetcher.cfg.LoadMoreWait)
	require.Equal(t, defaultIdleTimeout, fetcher.cfg.IdleTimeout)
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	if got := fetcher.navTimeout(); got != defaultNavTimeout {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	fetcher.cfg.NavigationTimeout = time.Second
	if got := fetcher.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, fetcher.acquire(ctx))

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"Accept-Language": {"en-US", "en"}}
	cloned := cloneHeader(src)
	cloned.Add("Accept-Language", "de")
	if len(src["Accept-Language"]) != 2 {
		t.Fatalf("source header mutated: %+v", src)
	}

	netHeaders := toNetworkHeaders(src)
	switch v := netHeaders["Accept-Language"].(type) {
	case []string:
		require.Len(t, v, 2)
	default:
		t.Fatalf("expected []string, got %T", v)
	}
	single := toNetworkHeaders(http.Header{"X-Test": {"a"}, "X-Empty": {}})
	require.Equal(t, "a", single["X-Test"])
	require.NotContains(t, single, "X-Empty")
}

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeXHR,
		Response: &network.Response{
			Status: 500,
			URL:    "https://example.com/api",
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/search",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/frame"},
	})

	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 203, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://example.com/search", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)

	_, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, "https://req", url)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNetworkTrackerIdle(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	tracker := newNetworkTracker(clock.Now)
	quiet := 500 * time.Millisecond

	require.False(t, tracker.idle(quiet), "fresh tracker has not been quiet long enough")
	clock.Advance(time.Second)
	require.True(t, tracker.idle(quiet))

	tracker.handle(&network.EventRequestWillBeSent{RequestID: "r1"})
	tracker.handle(&network.EventRequestWillBeSent{RequestID: "r2"})
	require.Equal(t, 2, tracker.inflightCount())
	clock.Advance(time.Second)
	require.False(t, tracker.idle(quiet))

	tracker.handle(&network.EventLoadingFinished{RequestID: "r1"})
	tracker.handle(&network.EventLoadingFailed{RequestID: "r2"})
	tracker.handle(&network.EventLoadingFinished{RequestID: "unknown"})
	require.Zero(t, tracker.inflightCount())
	require.False(t, tracker.idle(quiet))
	clock.Advance(quiet)
	require.True(t, tracker.idle(quiet))
}

func TestNetworkTrackerWaitIdleTimesOut(t *testing.T) {
	t.Parallel()

	tracker := newNetworkTracker(time.Now)
	tracker.handle(&network.EventRequestWillBeSent{RequestID: "stuck"})

	start := time.Now()
	require.False(t, tracker.waitIdle(context.Background(), 10*time.Millisecond, 120*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, tracker.waitIdle(ctx, 10*time.Millisecond, time.Second))
}

func TestNetworkTrackerWaitIdleSucceeds(t *testing.T) {
	t.Parallel()

	tracker := newNetworkTracker(time.Now)
	tracker.handle(&network.EventRequestWillBeSent{RequestID: "r"})
	go func() {
		time.Sleep(30 * time.Millisecond)
		tracker.handle(&network.EventLoadingFinished{RequestID: "r"})
	}()
	require.True(t, tracker.waitIdle(context.Background(), 20*time.Millisecond, 2*time.Second))
}

func TestVisibleScriptQuotesSelector(t *testing.T) {
	t.Parallel()

	script := visibleScript(`button[data-x="1"]`)
	require.Contains(t, script, `document.querySelector("button[data-x=\"1\"]")`)
}

// loadMorePage serves a list that grows by two items per click and hides the button
// once three batches are shown.
const loadMorePage = `<!doctype html><html><body>
<ul id="list"></ul>
<button class="ipc-see-more__button" onclick="more()">50 more</button>
<script>
let batch = 0;
function more() {
  batch++;
  const list = document.getElementById('list');
  for (let i = 0; i < 2; i++) {
    const li = document.createElement('li');
    li.className = 'ipc-metadata-list-summary-item';
    li.textContent = 'item-' + batch + '-' + i;
    list.appendChild(li);
  }
  if (batch >= 3) document.querySelector('.ipc-see-more__button').style.display = 'none';
}
more();
</script></body></html>`

func TestFetchClicksLoadMore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Language") != "en-US" {
			http.Error(w, "missing header", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, loadMorePage)
	}))
	defer srv.Close()

	fetcher, err := NewChromedp(Config{
		MaxParallel:       1,
		UserAgent:         "TestAgent",
		NavigationTimeout: 20 * time.Second,
		IdleTimeout:       2 * time.Second,
		LoadMoreWait:      50 * time.Millisecond,
		Headless:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	defer fetcher.Close()

	page, err := fetcher.Fetch(context.Background(), ingest.FetchRequest{
		URL:     srv.URL,
		Pages:   10,
		Headers: http.Header{"Accept-Language": {"en-US"}},
	})
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}

	require.True(t, page.UsedHeadless)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, 2, page.Clicks, "button disappears after the third batch")
	require.Equal(t, 6, strings.Count(string(page.Body), `class="ipc-metadata-list-summary-item"`))
}
