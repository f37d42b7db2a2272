package discover

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Query parameters stripped during normalization. Tracking noise would
// otherwise make the same page look like many.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
}

// NormalizeURL standardizes a URL so duplicates collapse: lowercases scheme
// and host, strips default ports, drops the fragment and tracking query
// parameters, and sorts the remaining query.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if _, tracked := trackingParams[param]; tracked {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ExcludeFilter rejects URLs matching any configured pattern or living on a
// different host than the root.
type ExcludeFilter struct {
	patterns          []*regexp.Regexp
	rootHost          string
	includeSubdomains bool
}

// NewExcludeFilter compiles the pattern list against the root URL. Invalid
// patterns are rejected up front rather than silently dropped.
func NewExcludeFilter(rootURL string, patterns []string, includeSubdomains bool) (*ExcludeFilter, error) {
	root, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("parse root url: %w", err)
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", raw, err)
		}
		compiled = append(compiled, re)
	}
	return &ExcludeFilter{
		patterns:          compiled,
		rootHost:          canonicalHost(root.Host),
		includeSubdomains: includeSubdomains,
	}, nil
}

// ShouldExclude reports whether the URL must be skipped.
func (f *ExcludeFilter) ShouldExclude(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	if !sameSite(u.Host, f.rootHost, f.includeSubdomains) {
		return true
	}
	for _, re := range f.patterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// canonicalHost lowercases and drops a leading "www." so the registered
// domain compares equal across the variants. Ports are kept as-is.
func canonicalHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

func sameSite(host, rootHost string, includeSubdomains bool) bool {
	host = canonicalHost(host)
	if host == rootHost {
		return true
	}
	if includeSubdomains && strings.HasSuffix(host, "."+rootHost) {
		return true
	}
	return false
}
