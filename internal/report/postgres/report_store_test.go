package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

func sampleReport() a11y.ReportRecord {
	scannedAt := time.Unix(1700000000, 0).UTC()
	return a11y.ReportRecord{
		JobID:     "job-1",
		Email:     "a@x.com",
		SiteName:  "x.com",
		RootURL:   "https://x.com",
		Score:     85,
		TeaserURL: "https://signed.example/teasers/t.png",
		ScannedAt: scannedAt,
		URLs: []a11y.ReportURLRecord{
			{URL: "https://x.com/", Succeeded: true, IssueCount: 2},
			{
				URL:         "https://x.com/broken",
				Succeeded:   false,
				FailureKind: a11y.FailureNavTimeout,
				Error:       "context deadline exceeded",
				Duration:    60 * time.Second,
			},
		},
		Findings: []a11y.ReportFindingRecord{
			{PageURL: "https://x.com/", Rule: "image-alt", Severity: a11y.SeverityCritical, Message: "images need alt text", Snippet: "<img>"},
		},
	}
}

func TestSaveReport_InsertsAllRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStoreWithPool(mock)
	require.NoError(t, err)

	report := sampleReport()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reports").
		WithArgs(
			pgxmock.AnyArg(),
			report.JobID,
			report.Email,
			report.SiteName,
			report.SiteID,
			report.RootURL,
			report.Score,
			report.TeaserURL,
			report.ScannedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO report_urls").
		WithArgs(pgxmock.AnyArg(), "https://x.com/", true, "", 0, "", int64(0), 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO report_urls").
		WithArgs(pgxmock.AnyArg(), "https://x.com/broken", false, "nav_timeout", 0,
			"context deadline exceeded", int64(60000), 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO report_findings").
		WithArgs(pgxmock.AnyArg(), "https://x.com/", "image-alt", "critical", "images need alt text", "<img>").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	reportID, err := store.SaveReport(context.Background(), report)
	require.NoError(t, err)
	require.NotEmpty(t, reportID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReport_RollsBackOnInsertError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reports").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("relation missing"))
	mock.ExpectRollback()

	_, err = store.SaveReport(context.Background(), sampleReport())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReport_RequiresRootURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStoreWithPool(mock)
	require.NoError(t, err)

	report := sampleReport()
	report.RootURL = ""
	_, err = store.SaveReport(context.Background(), report)
	require.Error(t, err)
}
