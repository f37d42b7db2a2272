package pagescan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

const maxSnippetLen = 300

// auditResult mirrors the axe-style payload produced by the audit script.
type auditResult struct {
	Violations []auditViolation `json:"violations"`
}

type auditViolation struct {
	ID     string      `json:"id"`
	Impact string      `json:"impact"`
	Help   string      `json:"help"`
	Nodes  []auditNode `json:"nodes"`
}

type auditNode struct {
	HTML         string         `json:"html"`
	Target       []string       `json:"target"`
	BoundingRect *a11y.NodeRect `json:"boundingRect"`
}

// parseViolations converts the raw audit JSON into typed issues: one Issue
// per violation, carrying the first node's trimmed HTML and bounding rect.
// Issues are ordered by severity rank descending, stable within a tier.
func parseViolations(raw json.RawMessage) ([]a11y.Issue, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty audit payload")
	}
	var result auditResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal audit payload: %w", err)
	}

	issues := make([]a11y.Issue, 0, len(result.Violations))
	for _, v := range result.Violations {
		if v.ID == "" {
			continue
		}
		issue := a11y.Issue{
			Severity: a11y.ParseSeverity(v.Impact),
			Rule:     v.ID,
			Message:  v.Help,
		}
		if len(v.Nodes) > 0 {
			issue.Snippet = trimSnippet(v.Nodes[0].HTML)
			issue.Rect = v.Nodes[0].BoundingRect
		}
		issues = append(issues, issue)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity.Rank() > issues[j].Severity.Rank()
	})
	return issues, nil
}

// trimSnippet caps the snippet length, backing the cut off to a rune
// boundary so a multibyte character is never split.
func trimSnippet(html string) string {
	html = strings.TrimSpace(html)
	if len(html) <= maxSnippetLen {
		return html
	}
	cut := maxSnippetLen
	for cut > 0 && !utf8.RuneStart(html[cut]) {
		cut--
	}
	return html[:cut] + "…"
}
