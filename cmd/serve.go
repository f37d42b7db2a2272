package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagegauge/pagegauge/internal/a11y"
	"github.com/pagegauge/pagegauge/internal/api"
	"github.com/pagegauge/pagegauge/internal/auditjs"
	"github.com/pagegauge/pagegauge/internal/browser"
	"github.com/pagegauge/pagegauge/internal/config"
	"github.com/pagegauge/pagegauge/internal/discover"
	"github.com/pagegauge/pagegauge/internal/logging"
	"github.com/pagegauge/pagegauge/internal/metrics"
	notifymem "github.com/pagegauge/pagegauge/internal/notify/memory"
	notifypubsub "github.com/pagegauge/pagegauge/internal/notify/pubsub"
	"github.com/pagegauge/pagegauge/internal/pagescan"
	queuemem "github.com/pagegauge/pagegauge/internal/queue/memory"
	"github.com/pagegauge/pagegauge/internal/quota"
	reportmem "github.com/pagegauge/pagegauge/internal/report/memory"
	reportpg "github.com/pagegauge/pagegauge/internal/report/postgres"
	"github.com/pagegauge/pagegauge/internal/scanner"
	storagegcs "github.com/pagegauge/pagegauge/internal/storage/gcs"
	storagemem "github.com/pagegauge/pagegauge/internal/storage/memory"
	"github.com/pagegauge/pagegauge/internal/teaser"
	"github.com/pagegauge/pagegauge/internal/worker"
)

// discoveryAdapter narrows *discover.Discoverer to the orchestrator's view.
type discoveryAdapter struct {
	d *discover.Discoverer
}

func (a discoveryAdapter) Discover(ctx context.Context, rootURL string, opts a11y.Options) scanner.DiscoverySession {
	return a.d.Discover(ctx, rootURL, opts)
}

func (a discoveryAdapter) CrawlLinks(rootURL string, opts a11y.Options) []string {
	return a.d.CrawlLinks(rootURL, opts)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scan API server and job worker",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	browserProvider := browser.NewProvider(browser.Config{UserAgent: cfg.Scan.UserAgent}, logger)
	defer browserProvider.Close()

	pageScanner := pagescan.New(
		browserProvider,
		auditjs.NewProvider(cfg.Audit.CDNURL, logger),
		pagescan.Config{
			NavTimeout:     time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
		},
		logger,
	)
	discoverer := discover.New(discover.Config{UserAgent: cfg.Scan.UserAgent}, logger)

	blobs, closeBlobs, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBlobs()

	teaserGen, err := teaser.New(blobs, teaser.Config{
		KeyPrefix:    cfg.Storage.TeaserPrefix,
		SignedURLTTL: cfg.SignedURLTTL(),
	}, logger)
	if err != nil {
		return fmt.Errorf("init teaser generator: %w", err)
	}

	orchestrator := scanner.New(discoveryAdapter{d: discoverer}, pageScanner, teaserGen, nil, logger)

	reports, closeReports, err := buildReportStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeReports()

	notifier, closeNotifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	queue := queuemem.New(cfg.Worker.QueueDepth, nil)
	gate := quota.New(quota.Limits{
		MaxConcurrentStarter:          cfg.Quota.MaxConcurrentStarter,
		MaxConcurrentFull:             cfg.Quota.MaxConcurrentFull,
		StarterPerIPPerHour:           cfg.Quota.StarterPerIPPerHour,
		StarterUnverifiedPerIPPerHour: cfg.Quota.StarterUnverifiedPerIP,
		StarterPerEmailPerDay:         cfg.Quota.StarterPerEmailPerDay,
		FullPerIPPerHour:              cfg.Quota.FullPerIPPerHour,
		FullPerEmailPerDay:            cfg.Quota.FullPerEmailPerDay,
		BypassEmail:                   cfg.Quota.BypassEmail,
	}, nil, logger)
	permits := quota.NewPermitRegistry()

	jobWorker := worker.New(queue, orchestrator, reports, notifier, nil, blobs, permits, worker.Config{
		MaxRetries:     cfg.Worker.MaxRetries,
		BackoffUnit:    cfg.RetryBackoffUnit(),
		OverallTimeout: cfg.OverallTimeout(),
	}, nil, logger)
	go func() { _ = jobWorker.Run(ctx) }()

	apiServer := api.NewServer(queue, gate, permits, orchestrator, api.Config{
		DefaultOptions: a11y.Options{
			MaxPages:        cfg.Scan.MaxPagesDefault,
			MaxLinksPerPage: cfg.Scan.MaxLinksPerPage,
			MaxDepth:        cfg.Scan.MaxDepthDefault,
			MaxConcurrency:  cfg.Scan.MaxConcurrency,
			PageTimeout:     cfg.PageTimeout(),
			UseSitemap:      true,
			GenerateTeaser:  true,
		},
	}, nil, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (a11y.BlobStore, func(), error) {
	if cfg.Storage.GCSBucket == "" {
		logger.Warn("no GCS bucket configured, artifacts stay in process memory")
		return storagemem.New(""), func() {}, nil
	}
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage client: %w", err)
	}
	store, err := storagegcs.New(client, storagegcs.Config{Bucket: cfg.Storage.GCSBucket})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, func() { _ = client.Close() }, nil
}

func buildReportStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (a11y.ReportStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database configured, reports stay in process memory")
		return reportmem.New(), func() {}, nil
	}
	store, err := reportpg.NewReportStore(ctx, reportpg.ReportStoreConfig{DSN: cfg.DB.DSN})
	if err != nil {
		return nil, nil, fmt.Errorf("init report store: %w", err)
	}
	return store, store.Close, nil
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (a11y.Notifier, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Warn("no pubsub topic configured, notifications stay in process memory")
		return notifymem.New(logger), func() {}, nil
	}
	client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	notifier, err := notifypubsub.New(topic, nil, logger)
	if err != nil {
		topic.Stop()
		_ = client.Close()
		return nil, nil, err
	}
	closer := func() {
		topic.Stop()
		_ = client.Close()
	}
	return notifier, closer, nil
}
