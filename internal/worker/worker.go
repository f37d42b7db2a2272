// Package worker consumes the scan job queue, runs whole-site scans and
// fans results out to persistence and notification.
package worker

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/pagegauge/pagegauge/internal/a11y"
	"github.com/pagegauge/pagegauge/internal/metrics"
	"github.com/pagegauge/pagegauge/internal/quota"
)

// Config tunes job processing.
type Config struct {
	// MaxRetries is the default retry budget for jobs that carry none.
	MaxRetries int
	// BackoffUnit is the base of the exponential retry delay. Production
	// runs with one minute; tests shrink it.
	BackoffUnit time.Duration
	// OverallTimeout bounds one whole-site scan attempt.
	OverallTimeout time.Duration
	// ReportPrefix is the blob key prefix for rendered PDF reports.
	ReportPrefix string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Minute
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = 30 * time.Minute
	}
	if c.ReportPrefix == "" {
		c.ReportPrefix = "reports"
	}
	return c
}

// SiteScanner runs one whole-site scan.
type SiteScanner interface {
	ScanAllPages(ctx context.Context, rootURL string, opts a11y.Options) (*a11y.Result, error)
}

// Worker is the queue consumer. Run one per process; scan parallelism lives
// inside the orchestrator, not here.
type Worker struct {
	queue    a11y.Queue
	scanner  SiteScanner
	reports  a11y.ReportStore
	notifier a11y.Notifier
	renderer a11y.ReportRenderer
	blobs    a11y.BlobStore
	permits  *quota.PermitRegistry
	cfg      Config
	clock    a11y.Clock
	logger   *zap.Logger
}

// New builds a Worker. renderer and blobs are optional; without them rich
// notifications degrade to basic ones. permits may be nil when admission is
// not gated (one-shot CLI runs).
func New(
	queue a11y.Queue,
	scanner SiteScanner,
	reports a11y.ReportStore,
	notifier a11y.Notifier,
	renderer a11y.ReportRenderer,
	blobs a11y.BlobStore,
	permits *quota.PermitRegistry,
	cfg Config,
	clock a11y.Clock,
	logger *zap.Logger,
) *Worker {
	if clock == nil {
		clock = a11y.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		scanner:  scanner,
		reports:  reports,
		notifier: notifier,
		renderer: renderer,
		blobs:    blobs,
		permits:  permits,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		logger:   logger,
	}
}

// Run consumes jobs until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Info("worker stopping", zap.Error(err))
			return err
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *a11y.Job) {
	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.String("tier", string(job.Tier)),
		zap.Int("retry_count", job.RetryCount))
	logger.Info("job started")

	scanCtx, cancel := context.WithTimeout(ctx, w.cfg.OverallTimeout)
	result, err := w.scanner.ScanAllPages(scanCtx, job.URL, job.Options)
	cancel()
	if err != nil {
		w.fail(ctx, job, logger, fmt.Errorf("scan: %w", err))
		return
	}

	reportID, err := w.reports.SaveReport(ctx, buildReport(job, result))
	if err != nil {
		w.fail(ctx, job, logger, fmt.Errorf("save report: %w", err))
		return
	}

	w.notify(ctx, job, result, reportID, logger)

	if err := w.queue.MarkCompleted(ctx, job.ID); err != nil {
		logger.Error("mark completed failed", zap.Error(err))
	}
	metrics.ObserveJob(string(a11y.JobStatusCompleted))
	w.releasePermit(job.ID)
	logger.Info("job completed",
		zap.String("report_id", reportID),
		zap.Int("pages", result.SuccessfulPages),
		zap.Int("failed_pages", result.FailedPages))
}

// fail marks the job failed and notifies on every failed attempt, then
// retries with exponential backoff while budget remains. The delay doubles
// per attempt: unit, 2x, 4x and so on. Re-enqueueing flips the job back to
// pending, so between attempts callers see failed with the error message.
func (w *Worker) fail(ctx context.Context, job *a11y.Job, logger *zap.Logger, cause error) {
	job.RetryCount++
	job.ErrorMessage = cause.Error()

	if w.notifier != nil && job.Notification != a11y.NotifyNone {
		if err := w.notifier.ScanFailed(ctx, job.Email, job.SiteName, cause.Error()); err != nil {
			logger.Warn("failure notification not delivered", zap.Error(err))
		}
	}
	if err := w.queue.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		logger.Error("mark failed errored", zap.Error(err))
	}

	maxRetries := job.MaxRetries
	if maxRetries == 0 {
		maxRetries = w.cfg.MaxRetries
	}

	if job.RetryCount <= maxRetries {
		backoff := w.cfg.BackoffUnit * (1 << (job.RetryCount - 1))
		logger.Warn("job failed, retry scheduled",
			zap.Error(cause),
			zap.Int("attempt", job.RetryCount),
			zap.Int("max_retries", maxRetries),
			zap.Duration("backoff", backoff))
		metrics.ObserveJob("retried")

		time.AfterFunc(backoff, func() {
			if err := w.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
				logger.Error("retry enqueue failed, job stays failed", zap.Error(err))
				metrics.ObserveJob(string(a11y.JobStatusFailed))
				w.releasePermit(job.ID)
			}
		})
		return
	}

	logger.Error("job failed permanently", zap.Error(cause), zap.Int("attempts", job.RetryCount))
	metrics.ObserveJob(string(a11y.JobStatusFailed))
	w.releasePermit(job.ID)
}

// notify dispatches the configured completion notification. Notification
// problems are logged and never fail an otherwise completed job.
func (w *Worker) notify(ctx context.Context, job *a11y.Job, result *a11y.Result, reportID string, logger *zap.Logger) {
	if w.notifier == nil || job.Notification == a11y.NotifyNone {
		return
	}

	if job.Notification == a11y.NotifyRich {
		if pdfURL, ok := w.renderReportPDF(ctx, job, result, logger); ok {
			teaserURL := ""
			if result.Teaser != nil {
				teaserURL = result.Teaser.ImageURL
			}
			score := a11y.ScorePages(result.Pages)
			if err := w.notifier.FreeScanCompleted(ctx, job.Email, job.SiteName, pdfURL, score, teaserURL); err != nil {
				logger.Warn("rich notification not delivered", zap.Error(err))
			}
			return
		}
		// Fall through to the basic notification.
	}

	if err := w.notifier.ScanCompleted(ctx, job.Email, job.SiteName, reportID); err != nil {
		logger.Warn("completion notification not delivered", zap.Error(err))
	}
}

// renderReportPDF produces and publishes the PDF attachment for rich
// notifications. Any failure downgrades the notification instead of failing
// the job.
func (w *Worker) renderReportPDF(ctx context.Context, job *a11y.Job, result *a11y.Result, logger *zap.Logger) (string, bool) {
	if w.renderer == nil || w.blobs == nil {
		return "", false
	}

	html, err := w.renderer.RenderHTML(ctx, *result)
	if err != nil {
		logger.Warn("report html render failed", zap.Error(err))
		return "", false
	}
	pdf, err := w.renderer.GeneratePDF(ctx, html)
	if err != nil {
		logger.Warn("report pdf render failed", zap.Error(err))
		return "", false
	}

	key := path.Join(w.cfg.ReportPrefix, job.ID+".pdf")
	if err := w.blobs.Upload(ctx, key, "application/pdf", pdf); err != nil {
		logger.Warn("report pdf upload failed", zap.Error(err))
		return "", false
	}
	pdfURL, err := w.blobs.SignedURL(ctx, key, 7*24*time.Hour)
	if err != nil {
		logger.Warn("report pdf signing failed", zap.Error(err))
		return "", false
	}
	return pdfURL, true
}

func (w *Worker) releasePermit(jobID string) {
	if w.permits != nil {
		w.permits.Release(jobID)
	}
}

// buildReport flattens a scan result into the persistence aggregate,
// covering successful and failed URLs alike.
func buildReport(job *a11y.Job, result *a11y.Result) a11y.ReportRecord {
	record := a11y.ReportRecord{
		JobID:     job.ID,
		Email:     job.Email,
		SiteName:  job.SiteName,
		SiteID:    job.SiteID,
		RootURL:   job.URL,
		Score:     a11y.ScorePages(result.Pages),
		ScannedAt: result.ScannedAt,
	}
	if result.Teaser != nil {
		record.TeaserURL = result.Teaser.ImageURL
	}

	for _, page := range result.Pages {
		record.URLs = append(record.URLs, a11y.ReportURLRecord{
			URL:        page.URL,
			Succeeded:  true,
			IssueCount: len(page.Issues),
		})
		for _, issue := range page.Issues {
			record.Findings = append(record.Findings, a11y.ReportFindingRecord{
				PageURL:  page.URL,
				Rule:     issue.Rule,
				Severity: issue.Severity,
				Message:  issue.Message,
				Snippet:  issue.Snippet,
			})
		}
	}
	for _, failure := range result.Failures {
		record.URLs = append(record.URLs, a11y.ReportURLRecord{
			URL:         failure.URL,
			Succeeded:   false,
			FailureKind: failure.Failure.Kind,
			HTTPStatus:  failure.Failure.HTTPStatus,
			Error:       failure.Failure.Message,
			Duration:    failure.Failure.Duration,
		})
	}
	return record
}
