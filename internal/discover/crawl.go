package discover

import (
	"net/url"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

// CrawlLinks discovers same-domain page URLs by following anchor links from
// the root, bounded by MaxDepth and MaxLinksPerPage. Used as the fallback
// discovery path when no sitemap yields URLs. Crawl errors are logged and
// swallowed; the returned slice is deduplicated, normalized and excludes the
// root itself.
func (d *Discoverer) CrawlLinks(rootURL string, opts a11y.Options) []string {
	root, err := url.Parse(rootURL)
	if err != nil {
		d.logger.Warn("crawl discovery skipped, malformed root", zap.String("root", rootURL), zap.Error(err))
		return nil
	}
	filter, err := NewExcludeFilter(rootURL, opts.ExcludePatterns, opts.IncludeSubdomains)
	if err != nil {
		d.logger.Warn("crawl discovery skipped, bad exclude patterns", zap.Error(err))
		return nil
	}

	maxDepth := opts.MaxDepth
	if maxDepth < 1 {
		maxDepth = 1
	}

	collectorOpts := []colly.CollectorOption{
		// Colly counts the root as depth 1.
		colly.MaxDepth(maxDepth + 1),
		colly.Async(true),
	}
	if d.cfg.UserAgent != "" {
		collectorOpts = append(collectorOpts, colly.UserAgent(d.cfg.UserAgent))
	}
	collector := colly.NewCollector(collectorOpts...)
	collector.AllowURLRevisit = false
	collector.SetRequestTimeout(d.cfg.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
	}); err != nil {
		d.logger.Warn("crawl limit setup failed", zap.Error(err))
		return nil
	}

	var (
		mu          sync.Mutex
		found       []string
		seen        = map[string]struct{}{}
		perPageSeen = map[string]int{}
	)

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || !strings.HasPrefix(link, "http") {
			return
		}
		normalized, err := NormalizeURL(link)
		if err != nil || filter.ShouldExclude(normalized) {
			return
		}

		pageKey := e.Request.URL.String()
		mu.Lock()
		if opts.MaxLinksPerPage > 0 && perPageSeen[pageKey] >= opts.MaxLinksPerPage {
			mu.Unlock()
			return
		}
		perPageSeen[pageKey]++
		if _, dup := seen[normalized]; !dup {
			seen[normalized] = struct{}{}
			found = append(found, normalized)
		}
		mu.Unlock()

		if err := e.Request.Visit(link); err != nil {
			d.logger.Debug("crawl visit skipped", zap.String("url", link), zap.Error(err))
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		d.logger.Debug("crawl request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status", r.StatusCode),
			zap.Error(err))
	})

	if err := collector.Visit(root.String()); err != nil {
		d.logger.Debug("crawl root visit failed", zap.String("root", rootURL), zap.Error(err))
		return nil
	}
	collector.Wait()

	normalizedRoot, err := NormalizeURL(rootURL)
	if err != nil {
		return found
	}
	out := found[:0]
	for _, u := range found {
		if u != normalizedRoot {
			out = append(out, u)
		}
	}
	return out
}
