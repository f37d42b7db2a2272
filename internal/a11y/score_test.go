package a11y

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScore_CleanSiteIsPerfect(t *testing.T) {
	t.Parallel()

	require.Equal(t, 100, Score(0, 0, 0, 0))
}

func TestScore_WeightsPerTier(t *testing.T) {
	t.Parallel()

	require.Equal(t, 90, Score(1, 0, 0, 0))
	require.Equal(t, 95, Score(0, 1, 0, 0))
	require.Equal(t, 98, Score(0, 0, 1, 0))
	require.Equal(t, 99, Score(0, 0, 0, 1))
	require.Equal(t, 82, Score(1, 1, 1, 1))
}

func TestScore_FloorClampedAtZero(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Score(50, 0, 0, 0))
	require.Equal(t, 0, Score(9, 2, 0, 0))
}

func TestScorePages_CountsAcrossPages(t *testing.T) {
	t.Parallel()

	pages := []PageResult{
		{URL: "https://x.com/", Issues: []Issue{
			{Severity: SeverityCritical, Rule: "image-alt"},
			{Severity: SeverityMinor, Rule: "region"},
		}},
		{URL: "https://x.com/about", Issues: []Issue{
			{Severity: SeveritySerious, Rule: "link-name"},
		}},
	}
	require.Equal(t, 100-10-1-5, ScorePages(pages))
}
