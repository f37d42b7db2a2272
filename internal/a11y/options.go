package a11y

import "time"

// Options is the immutable configuration for one scan.
type Options struct {
	// MaxPages caps how many discovered URLs are scanned; 0 means unlimited.
	MaxPages int `json:"max_pages"`
	// MaxLinksPerPage bounds link extraction during crawl discovery.
	MaxLinksPerPage int `json:"max_links_per_page"`
	// MaxDepth bounds crawl discovery depth from the root.
	MaxDepth int `json:"max_depth"`
	// PageTimeout is the hard per-page navigation deadline.
	PageTimeout time.Duration `json:"page_timeout"`
	// IncludeSubdomains widens same-domain filtering to subdomains.
	IncludeSubdomains bool `json:"include_subdomains"`
	// ExcludePatterns are regex strings; URLs matching any are skipped.
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	// GenerateTeaser enables teaser image generation.
	GenerateTeaser bool `json:"generate_teaser"`
	// MaxConcurrency bounds parallel page scans. Always >= 1 after Normalize.
	MaxConcurrency int `json:"max_concurrency"`
	// UseSitemap enables sitemap probing during discovery.
	UseSitemap bool `json:"use_sitemap"`
}

// Normalize clamps option values to their documented invariants.
func (o Options) Normalize() Options {
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	if o.MaxPages < 0 {
		o.MaxPages = 0
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 60 * time.Second
	}
	return o
}

// StarterOptions is the fixed configuration used by the low-tier flow.
func StarterOptions() Options {
	return Options{
		MaxPages:        3,
		MaxLinksPerPage: 30,
		MaxDepth:        1,
		PageTimeout:     60 * time.Second,
		GenerateTeaser:  true,
		MaxConcurrency:  3,
		UseSitemap:      true,
	}
}
