package teaser

import (
	"sort"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

// TopIssues aggregates findings across pages grouped by rule, ordered by
// severity rank descending and count descending within a tier, capped at n.
func TopIssues(pages []a11y.PageResult, n int) []a11y.TopIssue {
	byRule := make(map[string]*a11y.TopIssue)
	for _, page := range pages {
		for _, issue := range page.Issues {
			entry, ok := byRule[issue.Rule]
			if !ok {
				entry = &a11y.TopIssue{
					Rule:     issue.Rule,
					Severity: issue.Severity,
					Message:  issue.Message,
				}
				byRule[issue.Rule] = entry
			}
			entry.Count++
			if issue.Severity.Rank() > entry.Severity.Rank() {
				entry.Severity = issue.Severity
			}
		}
	}

	top := make([]a11y.TopIssue, 0, len(byRule))
	for _, entry := range byRule {
		top = append(top, *entry)
	}
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Severity.Rank() != top[j].Severity.Rank() {
			return top[i].Severity.Rank() > top[j].Severity.Rank()
		}
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Rule < top[j].Rule
	})

	if n > 0 && len(top) > n {
		top = top[:n]
	}
	return top
}
