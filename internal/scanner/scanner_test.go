package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

type staticSession struct {
	urls    []string
	sitemap bool
}

func (s *staticSession) URLs() <-chan string {
	ch := make(chan string, len(s.urls))
	for _, u := range s.urls {
		ch <- u
	}
	close(ch)
	return ch
}

func (s *staticSession) SitemapUsed() bool { return s.sitemap }

type fakeDiscoverer struct {
	session    *staticSession
	crawl      []string
	crawlCalls atomic.Int32
}

func (d *fakeDiscoverer) Discover(_ context.Context, _ string, _ a11y.Options) DiscoverySession {
	return d.session
}

func (d *fakeDiscoverer) CrawlLinks(_ string, _ a11y.Options) []string {
	d.crawlCalls.Add(1)
	return d.crawl
}

type fakePageScanner struct {
	latency    time.Duration
	failURLs   map[string]bool
	screenshot []byte

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakePageScanner) ScanPage(_ context.Context, url string, captureScreenshot bool) *a11y.PageScanResult {
	current := f.inFlight.Add(1)
	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	defer f.inFlight.Add(-1)

	if f.latency > 0 {
		time.Sleep(f.latency)
	}

	if f.failURLs[url] {
		return &a11y.PageScanResult{
			URL:     url,
			Failure: &a11y.FailureInfo{Kind: a11y.FailureNavTimeout, Message: "deadline exceeded"},
		}
	}

	result := &a11y.PageScanResult{
		URL:  url,
		Page: &a11y.PageResult{URL: url, Issues: []a11y.Issue{{Severity: a11y.SeverityMinor, Rule: "duplicate-id"}}},
	}
	if captureScreenshot {
		result.Screenshot = f.screenshot
	}
	return result
}

type fakeTeaser struct {
	mu      sync.Mutex
	calls   int
	sources []string
}

func (f *fakeTeaser) Generate(_ context.Context, source *a11y.PageScanResult, _ []a11y.PageResult, _ *int) *a11y.Teaser {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sources = append(f.sources, source.URL)
	return &a11y.Teaser{ImageURL: "https://signed.example/" + source.URL}
}

func TestScanAllPages_SortsAndCounts(t *testing.T) {
	t.Parallel()

	discoverer := &fakeDiscoverer{session: &staticSession{
		urls:    []string{"https://x.com/", "https://x.com/c", "https://x.com/a", "https://x.com/b", "https://x.com/d"},
		sitemap: true,
	}}
	pages := &fakePageScanner{failURLs: map[string]bool{
		"https://x.com/b": true,
		"https://x.com/d": true,
	}}
	s := New(discoverer, pages, nil, nil, nil)

	result, err := s.ScanAllPages(context.Background(), "https://x.com/", a11y.Options{MaxConcurrency: 4})
	require.NoError(t, err)

	require.Equal(t, 5, result.TotalPages)
	require.Equal(t, 3, result.SuccessfulPages)
	require.Equal(t, 2, result.FailedPages)
	require.Equal(t, a11y.DiscoverySitemapCrawling, result.DiscoveryMethod)
	require.False(t, result.ScannedAt.IsZero())

	got := make([]string, 0, len(result.Pages))
	for _, p := range result.Pages {
		got = append(got, p.URL)
	}
	require.Equal(t, []string{"https://x.com/", "https://x.com/a", "https://x.com/c"}, got)

	require.Len(t, result.Failures, 2)
	require.Equal(t, "https://x.com/b", result.Failures[0].URL)
	require.Equal(t, a11y.FailureNavTimeout, result.Failures[0].Failure.Kind)
}

func TestScanAllPages_ConcurrencyBounded(t *testing.T) {
	t.Parallel()

	const latency = 50 * time.Millisecond
	discoverer := &fakeDiscoverer{session: &staticSession{
		urls: []string{
			"https://x.com/1", "https://x.com/2", "https://x.com/3",
			"https://x.com/4", "https://x.com/5", "https://x.com/6",
		},
		sitemap: true,
	}}
	pages := &fakePageScanner{latency: latency}
	s := New(discoverer, pages, nil, nil, nil)

	start := time.Now()
	result, err := s.ScanAllPages(context.Background(), "https://x.com/", a11y.Options{MaxConcurrency: 2})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 6, result.SuccessfulPages)
	require.LessOrEqual(t, pages.peak.Load(), int32(2), "parallelism bound exceeded")
	// Six pages through two slots take at least three waves.
	require.GreaterOrEqual(t, elapsed, 3*latency-10*time.Millisecond)
}

func TestScanAllPages_TeaserGeneratedOnce(t *testing.T) {
	t.Parallel()

	urls := make([]string, 8)
	for i := range urls {
		urls[i] = "https://x.com/p" + string(rune('a'+i))
	}
	discoverer := &fakeDiscoverer{session: &staticSession{urls: urls, sitemap: true}}
	pages := &fakePageScanner{screenshot: []byte{0x89, 'P', 'N', 'G'}}
	teaser := &fakeTeaser{}
	s := New(discoverer, pages, teaser, nil, nil)

	result, err := s.ScanAllPages(context.Background(), "https://x.com/",
		a11y.Options{MaxConcurrency: 8, GenerateTeaser: true})
	require.NoError(t, err)
	require.NotNil(t, result.Teaser)
	require.Equal(t, 1, teaser.calls, "teaser must be generated at most once per scan")
}

func TestScanAllPages_NoScreenshotSkipsTeaser(t *testing.T) {
	t.Parallel()

	discoverer := &fakeDiscoverer{session: &staticSession{urls: []string{"https://x.com/"}, sitemap: true}}
	pages := &fakePageScanner{} // no screenshot bytes
	teaser := &fakeTeaser{}
	s := New(discoverer, pages, teaser, nil, nil)

	result, err := s.ScanAllPages(context.Background(), "https://x.com/",
		a11y.Options{MaxConcurrency: 2, GenerateTeaser: true})
	require.NoError(t, err)
	require.Nil(t, result.Teaser)
	require.Zero(t, teaser.calls)
}

func TestScanAllPages_CrawlFallbackWhenSitemapEmpty(t *testing.T) {
	t.Parallel()

	discoverer := &fakeDiscoverer{
		session: &staticSession{urls: []string{"https://x.com/"}, sitemap: false},
		crawl:   []string{"https://x.com/about", "https://x.com/contact"},
	}
	pages := &fakePageScanner{}
	s := New(discoverer, pages, nil, nil, nil)

	result, err := s.ScanAllPages(context.Background(), "https://x.com/",
		a11y.Options{MaxConcurrency: 2, MaxDepth: 1})
	require.NoError(t, err)
	require.Equal(t, int32(1), discoverer.crawlCalls.Load())
	require.Equal(t, 3, result.SuccessfulPages)
	require.Equal(t, a11y.DiscoveryCrawling, result.DiscoveryMethod)
}

func TestScanAllPages_MaxPagesCapsDiscovery(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://x.com/", "https://x.com/a", "https://x.com/b",
		"https://x.com/c", "https://x.com/d", "https://x.com/e",
	}
	discoverer := &fakeDiscoverer{session: &staticSession{urls: urls, sitemap: true}}
	pages := &fakePageScanner{}
	s := New(discoverer, pages, nil, nil, nil)

	result, err := s.ScanAllPages(context.Background(), "https://x.com/",
		a11y.Options{MaxConcurrency: 4, MaxPages: 4})
	require.NoError(t, err)
	require.Equal(t, 4, result.TotalPages)
}

func TestScanAllPages_CancelledContext(t *testing.T) {
	t.Parallel()

	discoverer := &fakeDiscoverer{session: &staticSession{urls: []string{"https://x.com/"}, sitemap: true}}
	s := New(discoverer, &fakePageScanner{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ScanAllPages(ctx, "https://x.com/", a11y.Options{MaxConcurrency: 1})
	require.Error(t, err)
}

func TestScanFivePages_UsesStarterCaps(t *testing.T) {
	t.Parallel()

	urls := []string{"https://x.com/", "https://x.com/a", "https://x.com/b", "https://x.com/c", "https://x.com/d"}
	discoverer := &fakeDiscoverer{session: &staticSession{urls: urls, sitemap: true}}
	pages := &fakePageScanner{screenshot: []byte{1}}
	teaser := &fakeTeaser{}
	s := New(discoverer, pages, teaser, nil, nil)

	result, err := s.ScanFivePages(context.Background(), "https://x.com/")
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalPages, "starter scans are capped")
	require.NotNil(t, result.Teaser)
}
