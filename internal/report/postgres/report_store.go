// Package postgres persists scan reports in Postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

// ReportStoreConfig controls the Postgres connection pool behind the store.
type ReportStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ReportStore writes report aggregates across the reports, report_urls and
// report_findings tables in one transaction.
type ReportStore struct {
	pool txBeginner
}

// NewReportStore creates a Postgres-backed ReportStore.
func NewReportStore(ctx context.Context, cfg ReportStoreConfig) (*ReportStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ReportStore{pool: pool}, nil
}

// NewReportStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewReportStoreWithPool(pool txBeginner) (*ReportStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ReportStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ReportStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveReport inserts the aggregate atomically and returns the new report id.
func (s *ReportStore) SaveReport(ctx context.Context, report a11y.ReportRecord) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("report store is not configured")
	}
	if report.RootURL == "" {
		return "", fmt.Errorf("report root url is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	reportID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
INSERT INTO reports (
	id, job_id, email, site_name, site_id, root_url, score, teaser_url, scanned_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		reportID,
		report.JobID,
		report.Email,
		report.SiteName,
		report.SiteID,
		report.RootURL,
		report.Score,
		report.TeaserURL,
		report.ScannedAt,
	); err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}

	for _, row := range report.URLs {
		if _, err := tx.Exec(ctx, `
INSERT INTO report_urls (
	report_id, url, succeeded, failure_kind, http_status, error_message, duration_ms, issue_count
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			reportID,
			row.URL,
			row.Succeeded,
			string(row.FailureKind),
			row.HTTPStatus,
			row.Error,
			row.Duration.Milliseconds(),
			row.IssueCount,
		); err != nil {
			return "", fmt.Errorf("insert report url %s: %w", row.URL, err)
		}
	}

	for _, finding := range report.Findings {
		if _, err := tx.Exec(ctx, `
INSERT INTO report_findings (
	report_id, page_url, rule, severity, message, snippet
) VALUES ($1,$2,$3,$4,$5,$6)`,
			reportID,
			finding.PageURL,
			finding.Rule,
			string(finding.Severity),
			finding.Message,
			finding.Snippet,
		); err != nil {
			return "", fmt.Errorf("insert finding %s on %s: %w", finding.Rule, finding.PageURL, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return reportID, nil
}
