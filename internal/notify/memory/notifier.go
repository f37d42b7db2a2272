// Package memory provides an in-process notifier for local runs and tests.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Notification is one recorded dispatch.
type Notification struct {
	Kind      string
	Email     string
	SiteName  string
	ReportID  string
	Error     string
	PDFURL    string
	TeaserURL string
	Score     int
}

// Notifier records notifications instead of delivering them.
type Notifier struct {
	logger *zap.Logger

	mu   sync.Mutex
	sent []Notification
}

// New builds a Notifier. Entries are logged at info so local runs show the
// would-be delivery.
func New(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger}
}

// ScanCompleted records a completion notification.
func (n *Notifier) ScanCompleted(_ context.Context, email, siteName, reportID string) error {
	n.record(Notification{Kind: "scan_completed", Email: email, SiteName: siteName, ReportID: reportID})
	return nil
}

// ScanFailed records a failure notification.
func (n *Notifier) ScanFailed(_ context.Context, email, siteName, errMsg string) error {
	n.record(Notification{Kind: "scan_failed", Email: email, SiteName: siteName, Error: errMsg})
	return nil
}

// FreeScanCompleted records a starter-scan completion notification.
func (n *Notifier) FreeScanCompleted(_ context.Context, email, siteName, pdfURL string, score int, teaserURL string) error {
	n.record(Notification{
		Kind:      "free_scan_completed",
		Email:     email,
		SiteName:  siteName,
		PDFURL:    pdfURL,
		TeaserURL: teaserURL,
		Score:     score,
	})
	return nil
}

// Sent returns a copy of everything recorded so far.
func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *Notifier) record(entry Notification) {
	n.mu.Lock()
	n.sent = append(n.sent, entry)
	n.mu.Unlock()

	n.logger.Info("notification recorded",
		zap.String("kind", entry.Kind),
		zap.String("email", entry.Email),
		zap.String("site", entry.SiteName))
}
