// Package pubsub publishes scan lifecycle events to Google Cloud Pub/Sub.
// Downstream consumers (mailers, webhooks) subscribe to the topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

// Event types carried in the "type" message attribute.
const (
	EventScanCompleted     = "scan.completed"
	EventScanFailed        = "scan.failed"
	EventFreeScanCompleted = "free_scan.completed"
)

// Event is the JSON payload published for every notification.
type Event struct {
	Type       string    `json:"type"`
	Email      string    `json:"email"`
	SiteName   string    `json:"site_name"`
	ReportID   string    `json:"report_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	PDFURL     string    `json:"pdf_url,omitempty"`
	TeaserURL  string    `json:"teaser_url,omitempty"`
	Score      int       `json:"score,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type publishFunc func(ctx context.Context, data []byte, attrs map[string]string) (string, error)

// Notifier implements a11y.Notifier on top of one Pub/Sub topic.
type Notifier struct {
	publish publishFunc
	clock   a11y.Clock
	logger  *zap.Logger
}

// New builds a Notifier publishing to topic.
func New(topic *gpubsub.Topic, clock a11y.Clock, logger *zap.Logger) (*Notifier, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	publish := func(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
		result := topic.Publish(ctx, &gpubsub.Message{Data: data, Attributes: attrs})
		return result.Get(ctx)
	}
	return newWithPublish(publish, clock, logger), nil
}

func newWithPublish(publish publishFunc, clock a11y.Clock, logger *zap.Logger) *Notifier {
	if clock == nil {
		clock = a11y.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publish: publish, clock: clock, logger: logger}
}

// ScanCompleted announces a persisted full-scan report.
func (n *Notifier) ScanCompleted(ctx context.Context, email, siteName, reportID string) error {
	return n.send(ctx, Event{
		Type:     EventScanCompleted,
		Email:    email,
		SiteName: siteName,
		ReportID: reportID,
	})
}

// ScanFailed announces a terminally failed scan job.
func (n *Notifier) ScanFailed(ctx context.Context, email, siteName, errMsg string) error {
	return n.send(ctx, Event{
		Type:     EventScanFailed,
		Email:    email,
		SiteName: siteName,
		Error:    errMsg,
	})
}

// FreeScanCompleted announces a finished starter scan with its artifacts.
func (n *Notifier) FreeScanCompleted(ctx context.Context, email, siteName, pdfURL string, score int, teaserURL string) error {
	return n.send(ctx, Event{
		Type:      EventFreeScanCompleted,
		Email:     email,
		SiteName:  siteName,
		PDFURL:    pdfURL,
		TeaserURL: teaserURL,
		Score:     score,
	})
}

func (n *Notifier) send(ctx context.Context, event Event) error {
	event.OccurredAt = n.clock.Now()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	id, err := n.publish(ctx, data, map[string]string{"type": event.Type})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	n.logger.Debug("notification published",
		zap.String("type", event.Type),
		zap.String("message_id", id))
	return nil
}
