package a11y

import (
	"context"
	"time"
)

// BlobStore writes and signs scan artifacts (teaser images, report files).
type BlobStore interface {
	Upload(ctx context.Context, key string, contentType string, data []byte) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// ReportURLRecord is one per-URL row persisted with a report, covering both
// successful and failed pages.
type ReportURLRecord struct {
	URL         string
	Succeeded   bool
	FailureKind FailureKind
	HTTPStatus  int
	Error       string
	Duration    time.Duration
	IssueCount  int
}

// ReportFindingRecord is one persisted finding row.
type ReportFindingRecord struct {
	PageURL  string
	Rule     string
	Severity Severity
	Message  string
	Snippet  string
}

// ReportRecord is the aggregate handed to the report store after a scan.
type ReportRecord struct {
	JobID     string
	Email     string
	SiteName  string
	SiteID    string
	RootURL   string
	Score     int
	TeaserURL string
	ScannedAt time.Time
	URLs      []ReportURLRecord
	Findings  []ReportFindingRecord
}

// ReportStore persists a report aggregate and returns its identifier.
type ReportStore interface {
	SaveReport(ctx context.Context, report ReportRecord) (string, error)
}

// Notifier dispatches scan lifecycle notifications.
type Notifier interface {
	ScanCompleted(ctx context.Context, email, siteName, reportID string) error
	ScanFailed(ctx context.Context, email, siteName, errMsg string) error
	FreeScanCompleted(ctx context.Context, email, siteName, pdfURL string, score int, teaserURL string) error
}

// ReportRenderer produces the rich report artifacts attached to
// notifications. Document layout is owned elsewhere; only the contract is
// used here.
type ReportRenderer interface {
	RenderHTML(ctx context.Context, result Result) (string, error)
	GeneratePDF(ctx context.Context, html string) ([]byte, error)
}

// Queue provides FIFO scan-job semantics plus status tracking by id.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	// Dequeue blocks until a job is available or the context ends. The
	// returned job is stamped Processing.
	Dequeue(ctx context.Context) (*Job, error)
	PendingJobs(ctx context.Context) ([]*Job, error)
	MarkStarted(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
	Status(ctx context.Context, jobID string) (*Job, error)
}

// PageScanner loads one URL in an isolated browser context and audits it.
type PageScanner interface {
	ScanPage(ctx context.Context, url string, captureScreenshot bool) *PageScanResult
}

// Clock returns the current time; injectable for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
