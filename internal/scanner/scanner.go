// Package scanner composes discovery, page scanning and teaser generation
// into whole-site accessibility scans.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pagegauge/pagegauge/internal/a11y"
	"github.com/pagegauge/pagegauge/internal/metrics"
)

// DiscoverySession is one discovery run in progress.
type DiscoverySession interface {
	URLs() <-chan string
	SitemapUsed() bool
}

// Discoverer yields candidate URLs for a root.
type Discoverer interface {
	Discover(ctx context.Context, rootURL string, opts a11y.Options) DiscoverySession
	CrawlLinks(rootURL string, opts a11y.Options) []string
}

// TeaserGenerator renders and uploads the teaser image. Implementations
// swallow upload failures and return nil rather than failing the scan.
// overrideScore, when non-nil, replaces the score derived from pages.
type TeaserGenerator interface {
	Generate(ctx context.Context, source *a11y.PageScanResult, pages []a11y.PageResult, overrideScore *int) *a11y.Teaser
}

// Scanner is the scan orchestrator.
type Scanner struct {
	discoverer Discoverer
	pages      a11y.PageScanner
	teaser     TeaserGenerator
	clock      a11y.Clock
	logger     *zap.Logger
}

// New builds a Scanner. teaser may be nil when teaser generation is not
// wired (e.g. one-shot CLI scans).
func New(
	discoverer Discoverer,
	pages a11y.PageScanner,
	teaser TeaserGenerator,
	clock a11y.Clock,
	logger *zap.Logger,
) *Scanner {
	if clock == nil {
		clock = a11y.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		discoverer: discoverer,
		pages:      pages,
		teaser:     teaser,
		clock:      clock,
		logger:     logger,
	}
}

// ScanFivePages runs the fixed-configuration starter scan.
func (s *Scanner) ScanFivePages(ctx context.Context, rootURL string) (*a11y.Result, error) {
	return s.ScanAllPages(ctx, rootURL, a11y.StarterOptions())
}

// ScanAllPages discovers URLs for the root and fans out page scans under the
// configured concurrency bound. Individual page failures never abort the
// batch; only cancellation of ctx stops the scan early, surfaced as an
// error, never as a partial success.
func (s *Scanner) ScanAllPages(ctx context.Context, rootURL string, opts a11y.Options) (*a11y.Result, error) {
	opts = opts.Normalize()
	start := time.Now()
	metrics.ScanStarted()
	defer metrics.ScanFinished()

	urls, sitemapUsed := s.collectURLs(ctx, rootURL, opts)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan cancelled during discovery: %w", err)
	}

	results := s.scanPages(ctx, urls, opts)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan cancelled: %w", err)
	}

	pages := make([]a11y.PageResult, 0, len(results.pages))
	pages = append(pages, results.pages...)
	failures := make([]a11y.PageFailure, 0, len(results.failures))
	failures = append(failures, results.failures...)
	// Deterministic output ordering despite concurrent completion order.
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })
	sort.Slice(failures, func(i, j int) bool { return failures[i].URL < failures[j].URL })

	var teaser *a11y.Teaser
	if opts.GenerateTeaser && s.teaser != nil {
		if source := results.teaserSource.Load(); source != nil {
			teaser = s.teaser.Generate(ctx, source, pages, nil)
		} else {
			metrics.ObserveTeaser("skipped")
		}
	}

	method := a11y.DiscoveryCrawling
	if sitemapUsed {
		method = a11y.DiscoverySitemapCrawling
	}

	s.logger.Info("scan finished",
		zap.String("root_url", rootURL),
		zap.String("discovery_method", method),
		zap.Int("successful_pages", len(pages)),
		zap.Int("failed_pages", len(failures)),
		zap.Duration("duration", time.Since(start)))

	metrics.ObserveScanDuration(time.Since(start))
	return &a11y.Result{
		Pages:           pages,
		Failures:        failures,
		Teaser:          teaser,
		TotalPages:      len(pages) + len(failures),
		SuccessfulPages: len(pages),
		FailedPages:     len(failures),
		ScannedAt:       s.clock.Now().UTC(),
		DiscoveryMethod: method,
	}, nil
}

// collectURLs materializes up to MaxPages URLs (0 = unlimited) from the
// discoverer, falling back to link crawling when the sitemap path yields
// nothing beyond the root.
func (s *Scanner) collectURLs(ctx context.Context, rootURL string, opts a11y.Options) ([]string, bool) {
	discoveryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := s.discoverer.Discover(discoveryCtx, rootURL, opts)
	var urls []string
	for u := range session.URLs() {
		urls = append(urls, u)
		if opts.MaxPages > 0 && len(urls) >= opts.MaxPages {
			cancel()
			break
		}
	}
	sitemapUsed := session.SitemapUsed()

	if len(urls) == 1 && opts.MaxDepth > 0 && opts.MaxPages != 1 {
		for _, u := range s.discoverer.CrawlLinks(rootURL, opts) {
			urls = append(urls, u)
			if opts.MaxPages > 0 && len(urls) >= opts.MaxPages {
				break
			}
		}
	}
	return urls, sitemapUsed
}

type scanResults struct {
	mu       sync.Mutex
	pages    []a11y.PageResult
	failures []a11y.PageFailure

	// teaserClaimed guards the single-writer teaser race: the first
	// successful scan with a screenshot claims the slot atomically.
	teaserClaimed atomic.Bool
	teaserSource  atomic.Pointer[a11y.PageScanResult]
}

// scanPages fans out page scans with bounded parallelism, collecting
// successes into an append-only bag.
func (s *Scanner) scanPages(ctx context.Context, urls []string, opts a11y.Options) *scanResults {
	results := &scanResults{}
	limiter := make(chan struct{}, opts.MaxConcurrency)
	var wg sync.WaitGroup

	wantScreenshots := opts.GenerateTeaser && s.teaser != nil

	for _, url := range urls {
		select {
		case limiter <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return results
		}

		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			defer func() { <-limiter }()

			pageCtx, cancel := context.WithTimeout(ctx, opts.PageTimeout)
			defer cancel()

			result := s.pages.ScanPage(pageCtx, url, wantScreenshots)
			if result == nil || !result.Succeeded() {
				failure := a11y.FailureInfo{Kind: a11y.FailureBrowserError, Message: "no result"}
				if result != nil && result.Failure != nil {
					failure = *result.Failure
				}
				results.mu.Lock()
				results.failures = append(results.failures, a11y.PageFailure{URL: url, Failure: failure})
				results.mu.Unlock()
				return
			}

			results.mu.Lock()
			results.pages = append(results.pages, *result.Page)
			results.mu.Unlock()

			if wantScreenshots && len(result.Screenshot) > 0 {
				// First to atomically claim the slot wins; later
				// qualifying completions observe the claim and skip.
				if results.teaserClaimed.CompareAndSwap(false, true) {
					results.teaserSource.Store(result)
				}
			}
		}(url)
	}

	wg.Wait()
	return results
}
