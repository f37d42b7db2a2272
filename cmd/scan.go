package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagegauge/pagegauge/internal/a11y"
	"github.com/pagegauge/pagegauge/internal/auditjs"
	"github.com/pagegauge/pagegauge/internal/browser"
	"github.com/pagegauge/pagegauge/internal/config"
	"github.com/pagegauge/pagegauge/internal/discover"
	"github.com/pagegauge/pagegauge/internal/logging"
	"github.com/pagegauge/pagegauge/internal/pagescan"
	"github.com/pagegauge/pagegauge/internal/scanner"
)

func newScanCmd() *cobra.Command {
	var (
		maxPages    int
		maxDepth    int
		concurrency int
		noSitemap   bool
	)

	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Run a one-shot scan and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

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
			orchestrator := scanner.New(discoveryAdapter{d: discoverer}, pageScanner, nil, nil, logger)

			opts := a11y.Options{
				MaxPages:        maxPages,
				MaxLinksPerPage: cfg.Scan.MaxLinksPerPage,
				MaxDepth:        maxDepth,
				MaxConcurrency:  concurrency,
				PageTimeout:     cfg.PageTimeout(),
				UseSitemap:      !noSitemap,
			}
			result, err := orchestrator.ScanAllPages(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("scan %s: %w", args[0], err)
			}

			out, err := json.MarshalIndent(map[string]any{
				"score":  a11y.ScorePages(result.Pages),
				"result": result,
			}, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPages, "pages", 25, "maximum pages to scan (0 = unlimited)")
	cmd.Flags().IntVar(&maxDepth, "depth", 2, "crawl depth when no sitemap is found")
	cmd.Flags().IntVar(&concurrency, "concurrency", 5, "parallel page scans")
	cmd.Flags().BoolVar(&noSitemap, "no-sitemap", false, "skip sitemap discovery")

	return cmd
}
