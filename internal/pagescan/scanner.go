// Package pagescan loads a single URL in an isolated browser context and runs
// the in-page accessibility audit.
package pagescan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagegauge/pagegauge/internal/a11y"
	"github.com/pagegauge/pagegauge/internal/auditjs"
	"github.com/pagegauge/pagegauge/internal/browser"
	"github.com/pagegauge/pagegauge/internal/metrics"
)

// Heavy asset patterns blocked before navigation to cut page load time.
var blockedAssetPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp",
	"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot",
}

// Config controls per-page scan behavior.
type Config struct {
	NavTimeout     time.Duration
	ViewportWidth  int
	ViewportHeight int
}

// Scanner implements a11y.PageScanner on top of the shared browser provider.
type Scanner struct {
	browser *browser.Provider
	scripts *auditjs.Provider
	cfg     Config
	logger  *zap.Logger
}

// New builds a Scanner.
func New(browserProvider *browser.Provider, scripts *auditjs.Provider, cfg Config, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 800
	}
	return &Scanner{
		browser: browserProvider,
		scripts: scripts,
		cfg:     cfg,
		logger:  logger,
	}
}

// ScanPage audits one URL in a fresh isolated context. Failures never
// propagate as errors; they are absorbed into the result's FailureInfo. The
// context and page are closed on every exit path.
func (s *Scanner) ScanPage(ctx context.Context, url string, captureScreenshot bool) *a11y.PageScanResult {
	start := time.Now()

	taskCtx, cancel, err := s.browser.NewContext(ctx)
	if err != nil {
		return s.failed(url, a11y.FailureBrowserError, 0, fmt.Sprintf("open browser context: %v", err), start)
	}
	defer cancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, s.cfg.NavTimeout)
	defer timeoutCancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	if err := chromedp.Run(taskCtx,
		network.Enable(),
		network.SetBlockedURLs(blockedAssetPatterns),
		emulation.SetDeviceMetricsOverride(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight), 1, false),
		s.injectAuditScript(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return s.failed(url, classifyNavError(ctx, err), 0, err.Error(), start)
	}

	status := meta.status()
	if status == 0 {
		return s.failed(url, a11y.FailureHTTPError, 0, "no document response received", start)
	}
	if status >= http.StatusBadRequest {
		return s.failed(url, a11y.FailureHTTPError, status,
			fmt.Sprintf("document responded with status %d", status), start)
	}

	var raw json.RawMessage
	if err := chromedp.Run(taskCtx,
		chromedp.Evaluate(auditjs.EntryExpression, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true).WithReturnByValue(true)
		}),
	); err != nil {
		return s.failed(url, a11y.FailureScriptError, status, fmt.Sprintf("audit script: %v", err), start)
	}

	issues, err := parseViolations(raw)
	if err != nil {
		return s.failed(url, a11y.FailureScriptError, status, fmt.Sprintf("parse audit result: %v", err), start)
	}

	var screenshot []byte
	if captureScreenshot {
		if err := chromedp.Run(taskCtx, chromedp.CaptureScreenshot(&screenshot)); err != nil {
			// A missing screenshot only disqualifies this page from
			// teaser generation; the audit itself stands.
			s.logger.Warn("screenshot capture failed", zap.String("url", url), zap.Error(err))
			screenshot = nil
		}
	}

	metrics.ObservePage("ok")
	return &a11y.PageScanResult{
		URL:        url,
		Page:       &a11y.PageResult{URL: url, Issues: issues},
		RawAudit:   raw,
		Screenshot: screenshot,
		Duration:   time.Since(start),
	}
}

// injectAuditScript registers the audit source to evaluate on every new
// document, so it is present before the page's own scripts run.
func (s *Scanner) injectAuditScript() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		source := s.scripts.Source(ctx)
		if strings.TrimSpace(source) == "" {
			return fmt.Errorf("audit script source is empty")
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx); err != nil {
			return fmt.Errorf("register audit script: %w", err)
		}
		return nil
	})
}

func (s *Scanner) failed(url string, kind a11y.FailureKind, status int, msg string, start time.Time) *a11y.PageScanResult {
	duration := time.Since(start)
	s.logger.Warn("page scan failed",
		zap.String("url", url),
		zap.String("kind", string(kind)),
		zap.Int("http_status", status),
		zap.String("error", msg),
		zap.Duration("duration", duration))
	metrics.ObservePage("failed")
	return &a11y.PageScanResult{
		URL: url,
		Failure: &a11y.FailureInfo{
			Kind:       kind,
			HTTPStatus: status,
			Message:    msg,
			Duration:   duration,
		},
		Duration: duration,
	}
}

// classifyNavError maps a chromedp navigation error onto the failure
// taxonomy. A deadline on the page context is a navigation timeout unless the
// caller's own context ended first.
func classifyNavError(callerCtx context.Context, err error) a11y.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) && callerCtx.Err() == nil {
		return a11y.FailureNavTimeout
	}
	return a11y.FailureBrowserError
}

// responseMeta records the document response status from CDP network events.
type responseMeta struct {
	mu         sync.RWMutex
	statusCode int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusCode
}
