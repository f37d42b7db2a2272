package a11y

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeverity_RankOrdering(t *testing.T) {
	t.Parallel()

	require.Greater(t, SeverityCritical.Rank(), SeveritySerious.Rank())
	require.Greater(t, SeveritySerious.Rank(), SeverityModerate.Rank())
	require.Greater(t, SeverityModerate.Rank(), SeverityMinor.Rank())
	require.Greater(t, SeverityMinor.Rank(), Severity("bogus").Rank())
}

func TestParseSeverity_UnknownDefaultsToMinor(t *testing.T) {
	t.Parallel()

	require.Equal(t, SeverityCritical, ParseSeverity("critical"))
	require.Equal(t, SeverityMinor, ParseSeverity("catastrophic"))
	require.Equal(t, SeverityMinor, ParseSeverity(""))
}

func TestPageScanResult_DerivedState(t *testing.T) {
	t.Parallel()

	success := &PageScanResult{
		URL:  "https://example.com",
		Page: &PageResult{URL: "https://example.com"},
	}
	require.True(t, success.Succeeded())
	require.False(t, success.Failed())

	failed := &PageScanResult{
		URL: "https://example.com/broken",
		Failure: &FailureInfo{
			Kind:       FailureHTTPError,
			HTTPStatus: 503,
			Message:    "503 Service Unavailable",
		},
	}
	require.False(t, failed.Succeeded())
	require.True(t, failed.Failed())

	var nilResult *PageScanResult
	require.False(t, nilResult.Succeeded())
	require.False(t, nilResult.Failed())
}

func TestOptions_Normalize(t *testing.T) {
	t.Parallel()

	opts := Options{MaxConcurrency: 0, MaxPages: -3}.Normalize()
	require.Equal(t, 1, opts.MaxConcurrency)
	require.Zero(t, opts.MaxPages)
	require.Equal(t, 60*time.Second, opts.PageTimeout)
}

func TestStarterOptions_FixedShape(t *testing.T) {
	t.Parallel()

	opts := StarterOptions()
	require.Equal(t, 3, opts.MaxPages)
	require.Equal(t, 30, opts.MaxLinksPerPage)
	require.Equal(t, 3, opts.MaxConcurrency)
	require.True(t, opts.UseSitemap)
	require.True(t, opts.GenerateTeaser)
}

func TestJobStatus_Terminal(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusPending.Terminal())
	require.False(t, JobStatusProcessing.Terminal())
	require.True(t, JobStatusCompleted.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.True(t, JobStatusCancelled.Terminal())
}

func TestNodeRect_Area(t *testing.T) {
	t.Parallel()

	require.Zero(t, NodeRect{Width: 0, Height: 40}.Area())
	require.Zero(t, NodeRect{Width: -10, Height: 40}.Area())
	require.Equal(t, float64(1200), NodeRect{Width: 40, Height: 30}.Area())
}
