// Package api exposes the HTTP interface for the scan service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagegauge/pagegauge/internal/a11y"
	"github.com/pagegauge/pagegauge/internal/metrics"
	"github.com/pagegauge/pagegauge/internal/quota"
)

// StarterScanner runs the fixed-shape synchronous scan.
type StarterScanner interface {
	ScanFivePages(ctx context.Context, rootURL string) (*a11y.Result, error)
}

// Config tunes request handling and the defaults applied to full scans.
type Config struct {
	DefaultOptions a11y.Options
	// StarterTimeout bounds the synchronous starter scan request.
	StarterTimeout time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StarterTimeout <= 0 {
		c.StarterTimeout = 5 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 6 * time.Minute
	}
	return c
}

// Server wires HTTP handlers to the queue, quota gate and starter scanner.
type Server struct {
	router  chi.Router
	queue   a11y.Queue
	gate    *quota.Gate
	permits *quota.PermitRegistry
	starter StarterScanner
	cfg     Config
	clock   a11y.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queue a11y.Queue,
	gate *quota.Gate,
	permits *quota.PermitRegistry,
	starter StarterScanner,
	cfg Config,
	clock a11y.Clock,
	logger *zap.Logger,
) *Server {
	if clock == nil {
		clock = a11y.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:   queue,
		gate:    gate,
		permits: permits,
		starter: starter,
		cfg:     cfg.withDefaults(),
		clock:   clock,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(s.cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scans", s.submitScan)
		r.Post("/scans/starter", s.runStarterScan)
		r.Get("/jobs/{job_id}", s.getJobStatus)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type scanRequest struct {
	Email             string   `json:"email"`
	URL               string   `json:"url"`
	SiteName          string   `json:"site_name"`
	SiteID            string   `json:"site_id"`
	Notification      string   `json:"notification"`
	EmailVerified     bool     `json:"email_verified"`
	MaxPages          *int     `json:"max_pages"`
	MaxDepth          *int     `json:"max_depth"`
	IncludeSubdomains *bool    `json:"include_subdomains"`
	UseSitemap        *bool    `json:"use_sitemap"`
	GenerateTeaser    *bool    `json:"generate_teaser"`
	ExcludePatterns   []string `json:"exclude_patterns"`
}

type starterScanRequest struct {
	Email         string `json:"email"`
	URL           string `json:"url"`
	SiteName      string `json:"site_name"`
	EmailVerified bool   `json:"email_verified"`
}

// submitScan admits, persists and enqueues a full-tier async scan job. The
// admission permit travels with the job and is released by the worker at a
// terminal state.
func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateSubmission(req.Email, req.URL); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}

	clientIP := clientIP(r)
	decision := s.gate.TryAcquire(a11y.TierFull, req.Email, clientIP, req.EmailVerified)
	if !decision.Allowed {
		writeError(s.logger, w, http.StatusTooManyRequests, "quota exceeded: "+decision.Reason)
		return
	}

	job := &a11y.Job{
		ID:           uuid.NewString(),
		Email:        req.Email,
		URL:          req.URL,
		SiteName:     siteNameOrHost(req.SiteName, req.URL),
		SiteID:       req.SiteID,
		Tier:         a11y.TierFull,
		Notification: parseNotification(req.Notification),
		ClientIP:     clientIP,
		Options:      s.toOptions(req),
		CreatedAt:    s.clock.Now(),
	}

	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		decision.Release()
		s.logger.Error("enqueue failed", zap.Error(err))
		writeError(s.logger, w, http.StatusServiceUnavailable, "scan queue is full")
		return
	}
	if s.permits != nil {
		s.permits.Register(job.ID, decision)
	}

	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(a11y.JobStatusPending),
	})
}

// runStarterScan executes the fixed-shape scan synchronously. The admission
// slot is held for the duration of the request and released on every path.
func (s *Server) runStarterScan(w http.ResponseWriter, r *http.Request) {
	var req starterScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateSubmission(req.Email, req.URL); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}

	decision := s.gate.TryAcquire(a11y.TierStarter, req.Email, clientIP(r), req.EmailVerified)
	if !decision.Allowed {
		writeError(s.logger, w, http.StatusTooManyRequests, "quota exceeded: "+decision.Reason)
		return
	}
	defer decision.Release()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StarterTimeout)
	defer cancel()

	result, err := s.starter.ScanFivePages(ctx, req.URL)
	if err != nil {
		s.logger.Error("starter scan failed", zap.String("url", req.URL), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "scan failed")
		return
	}

	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"score":  a11y.ScorePages(result.Pages),
		"result": result,
	})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.queue.Status(r.Context(), jobID)
	if err != nil {
		writeError(s.logger, w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) toOptions(req scanRequest) a11y.Options {
	opts := s.cfg.DefaultOptions
	opts.MaxPages = valueOrDefault(req.MaxPages, opts.MaxPages)
	opts.MaxDepth = valueOrDefault(req.MaxDepth, opts.MaxDepth)
	opts.IncludeSubdomains = valueOrDefault(req.IncludeSubdomains, opts.IncludeSubdomains)
	opts.UseSitemap = valueOrDefault(req.UseSitemap, opts.UseSitemap)
	opts.GenerateTeaser = valueOrDefault(req.GenerateTeaser, opts.GenerateTeaser)
	if len(req.ExcludePatterns) > 0 {
		opts.ExcludePatterns = append([]string(nil), req.ExcludePatterns...)
	}
	return opts.Normalize()
}

func validateSubmission(email, rawURL string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("valid email is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("url must be absolute http or https")
	}
	return nil
}

func parseNotification(raw string) a11y.NotificationType {
	switch a11y.NotificationType(raw) {
	case a11y.NotifyBasic, a11y.NotifyRich, a11y.NotifyNone:
		return a11y.NotificationType(raw)
	default:
		return a11y.NotifyBasic
	}
}

func siteNameOrHost(siteName, rawURL string) string {
	if siteName != "" {
		return siteName
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		return parsed.Host
	}
	return rawURL
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
