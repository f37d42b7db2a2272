// Package discover yields candidate URLs for a scan root via sitemap probing
// and same-domain link crawling.
package discover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

// Well-known sitemap locations probed in order before robots.txt.
var sitemapCandidates = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemaps.xml",
}

const maxSitemapBytes = 10 << 20

// Config controls the discoverer.
type Config struct {
	UserAgent string
	// RequestsPerSecond bounds fetches per host during discovery.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Discoverer probes sitemaps and robots.txt for candidate page URLs.
/// Discovery never fails: network and parse errors are logged and swallowed,
// degrading to just the root URL.
type Discoverer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Discoverer.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 4
	}
	return &Discoverer{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Session is one discovery run. URLs are streamed on a channel that closes
// when discovery completes; SitemapUsed is valid once the channel is closed.
type Session struct {
	ch          chan string
	sitemapUsed atomic.Bool
}

// URLs returns the stream of discovered absolute URLs. The root is always
// yielded first; the stream is deduplicated and finite.
func (s *Session) URLs() <-chan string {
	return s.ch
}

// SitemapUsed reports whether any sitemap contributed URLs. Only meaningful
// after the URL channel has been drained.
func (s *Session) SitemapUsed() bool {
	return s.sitemapUsed.Load()
}

// Discover starts a discovery run for the root URL. Each call is independent
// and restartable. The caller bounds consumption (max-pages cutoff); the
// discoverer itself never recurses through page links.
func (d *Discoverer) Discover(ctx context.Context, rootURL string, opts a11y.Options) *Session {
	session := &Session{ch: make(chan string, 16)}
	go d.run(ctx, rootURL, opts, session)
	return session
}

func (d *Discoverer) run(ctx context.Context, rootURL string, opts a11y.Options, session *Session) {
	defer close(session.ch)

	seen := map[string]struct{}{}
	emit := func(raw string) bool {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			d.logger.Debug("dropping malformed url", zap.String("url", raw), zap.Error(err))
			return true
		}
		if _, dup := seen[normalized]; dup {
			return true
		}
		seen[normalized] = struct{}{}
		select {
		case session.ch <- normalized:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(rootURL) {
		return
	}

	if !opts.UseSitemap {
		return
	}

	filter, err := NewExcludeFilter(rootURL, opts.ExcludePatterns, opts.IncludeSubdomains)
	if err != nil {
		d.logger.Warn("exclude filter setup failed, sitemap discovery skipped",
			zap.String("root", rootURL), zap.Error(err))
		return
	}

	root, err := url.Parse(rootURL)
	if err != nil {
		return
	}
	base := &url.URL{Scheme: root.Scheme, Host: root.Host}

	// Well-known locations first, robots.txt directives only if none of
	// them yields anything.
	for _, p := range sitemapCandidates {
		if done, aborted := d.drainSitemap(ctx, base.JoinPath(p).String(), filter, emit, session); done || aborted {
			return
		}
	}
	for _, sitemapURL := range d.robotsSitemaps(ctx, base) {
		if done, aborted := d.drainSitemap(ctx, sitemapURL, filter, emit, session); done || aborted {
			return
		}
	}
}

// drainSitemap emits all in-scope URLs from one sitemap source. done is true
// when the source yielded at least one URL (discovery stops at the first such
// source); aborted is true when the context ended mid-stream.
func (d *Discoverer) drainSitemap(
	ctx context.Context,
	sitemapURL string,
	filter *ExcludeFilter,
	emit func(string) bool,
	session *Session,
) (done, aborted bool) {
	delivered := false
	for _, pageURL := range d.fetchSitemapURLs(ctx, sitemapURL, true) {
		if filter.ShouldExclude(pageURL) {
			continue
		}
		delivered = true
		if !emit(pageURL) {
			return false, true
		}
	}
	if delivered {
		session.sitemapUsed.Store(true)
	}
	return delivered, false
}

// robotsSitemaps fetches robots.txt and returns its Sitemap: directives.
func (d *Discoverer) robotsSitemaps(ctx context.Context, base *url.URL) []string {
	body, err := d.fetch(ctx, base.JoinPath("/robots.txt").String())
	if err != nil {
		d.logger.Debug("robots.txt fetch failed", zap.String("host", base.Host), zap.Error(err))
		return nil
	}
	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		d.logger.Debug("robots.txt parse failed", zap.String("host", base.Host), zap.Error(err))
		return nil
	}
	return robots.Sitemaps
}

// fetchSitemapURLs downloads and parses one sitemap. Sitemap indexes are
// followed one level deep, matching the documented recursion bound.
func (d *Discoverer) fetchSitemapURLs(ctx context.Context, sitemapURL string, followIndex bool) []string {
	body, err := d.fetch(ctx, sitemapURL)
	if err != nil {
		d.logger.Debug("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}
	entries, isIndex, err := parseSitemap(body)
	if err != nil {
		d.logger.Debug("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}
	if !isIndex {
		return entries
	}
	if !followIndex {
		return nil
	}
	var pages []string
	for _, child := range entries {
		pages = append(pages, d.fetchSitemapURLs(ctx, child, false)...)
	}
	return pages
}

func (d *Discoverer) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if err := d.hostLimiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("politeness wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (d *Discoverer) hostLimiter(host string) *rate.Limiter {
	host = strings.ToLower(host)
	d.mu.Lock()
	defer d.mu.Unlock()
	limiter, ok := d.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.RequestsPerSecond), 1)
		d.limiters[host] = limiter
	}
	return limiter
}
