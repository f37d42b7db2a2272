// Package a11y defines the core types and collaborator contracts shared
// across the scan pipeline.
package a11y

import (
	"encoding/json"
	"time"
)

// Severity is the impact tier of a single accessibility finding.
type Severity string

// Severity tiers, ordered minor < moderate < serious < critical.
const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySerious  Severity = "serious"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering weight of the severity; higher means worse.
// Unknown severities rank below minor.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeveritySerious:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps a raw impact string onto a known tier, defaulting to
// minor for anything unrecognized so upstream audit engines cannot inject
// new tiers unnoticed.
func ParseSeverity(raw string) Severity {
	switch Severity(raw) {
	case SeverityCritical, SeveritySerious, SeverityModerate, SeverityMinor:
		return Severity(raw)
	default:
		return SeverityMinor
	}
}

// NodeRect is the viewport bounding box of an audited element, in CSS pixels.
type NodeRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the screen-space footprint of the rect.
func (r NodeRect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Issue is one audit finding on a page. Immutable once created.
type Issue struct {
	Severity Severity  `json:"severity"`
	Rule     string    `json:"rule"`
	Message  string    `json:"message"`
	Snippet  string    `json:"snippet,omitempty"`
	Rect     *NodeRect `json:"rect,omitempty"`
}

// PageResult is a successfully audited page and its ordered findings.
type PageResult struct {
	URL    string  `json:"url"`
	Issues []Issue `json:"issues"`
}

// FailureKind classifies why a page scan failed. The set is closed so
// downstream mapping stays exhaustive.
type FailureKind string

// Page-level failure taxonomy.
const (
	FailureHTTPError    FailureKind = "http_error"
	FailureNavTimeout   FailureKind = "nav_timeout"
	FailureScriptError  FailureKind = "script_error"
	FailureBrowserError FailureKind = "browser_error"
)

// FailureInfo describes a failed page scan attempt.
type FailureInfo struct {
	Kind       FailureKind   `json:"kind"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Message    string        `json:"message"`
	Duration   time.Duration `json:"duration"`
}

// PageScanResult is the transfer object for one scan attempt. Exactly one of
// Page or Failure is populated.
type PageScanResult struct {
	URL        string          `json:"url"`
	Page       *PageResult     `json:"page,omitempty"`
	RawAudit   json.RawMessage `json:"raw_audit,omitempty"`
	Screenshot []byte          `json:"-"`
	Failure    *FailureInfo    `json:"failure,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Succeeded reports whether the attempt produced a page result.
func (r *PageScanResult) Succeeded() bool {
	return r != nil && r.Page != nil
}

// Failed reports whether the attempt ended in a page-level failure.
func (r *PageScanResult) Failed() bool {
	return r != nil && r.Failure != nil
}

// TopIssue is one aggregated entry in a teaser, grouped by rule.
type TopIssue struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Count    int      `json:"count"`
}

// Teaser is the generated preview artifact for a scan.
type Teaser struct {
	ImageURL  string     `json:"image_url"`
	TopIssues []TopIssue `json:"top_issues"`
}

// PageFailure pairs a URL with the reason its scan attempt failed.
type PageFailure struct {
	URL     string      `json:"url"`
	Failure FailureInfo `json:"failure"`
}

// Discovery method labels reported on a finished scan.
const (
	DiscoverySitemapCrawling = "sitemap+crawling"
	DiscoveryCrawling        = "crawling"
)

// Result is the root aggregate of a finished scan. Built once, immutable.
type Result struct {
	Pages           []PageResult  `json:"pages"`
	Failures        []PageFailure `json:"failures,omitempty"`
	Teaser          *Teaser       `json:"teaser,omitempty"`
	TotalPages      int           `json:"total_pages"`
	SuccessfulPages int           `json:"successful_pages"`
	FailedPages     int           `json:"failed_pages"`
	ScannedAt       time.Time     `json:"scanned_at"`
	DiscoveryMethod string        `json:"discovery_method"`
}
