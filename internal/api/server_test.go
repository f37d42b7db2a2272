package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagegauge/pagegauge/internal/a11y"
	queuemem "github.com/pagegauge/pagegauge/internal/queue/memory"
	"github.com/pagegauge/pagegauge/internal/quota"
)

type fakeStarter struct {
	result *a11y.Result
	err    error
}

func (f *fakeStarter) ScanFivePages(_ context.Context, _ string) (*a11y.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func openLimits() quota.Limits {
	return quota.Limits{
		MaxConcurrentStarter:          10,
		MaxConcurrentFull:             10,
		StarterPerIPPerHour:           100,
		StarterUnverifiedPerIPPerHour: 100,
		StarterPerEmailPerDay:         100,
		FullPerIPPerHour:              100,
		FullPerEmailPerDay:            100,
	}
}

type serverParts struct {
	server  *Server
	queue   *queuemem.Queue
	gate    *quota.Gate
	permits *quota.PermitRegistry
}

func newTestServer(t *testing.T, limits quota.Limits, starter StarterScanner) serverParts {
	t.Helper()
	q := queuemem.New(16, nil)
	gate := quota.New(limits, nil, nil)
	permits := quota.NewPermitRegistry()
	cfg := Config{
		DefaultOptions: a11y.Options{
			MaxPages:       25,
			MaxDepth:       2,
			MaxConcurrency: 5,
			UseSitemap:     true,
			GenerateTeaser: true,
			PageTimeout:    time.Minute,
		},
	}
	return serverParts{
		server:  NewServer(q, gate, permits, starter, cfg, nil, nil),
		queue:   q,
		gate:    gate,
		permits: permits,
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.RemoteAddr = "10.0.0.1:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitScan_Accepted(t *testing.T) {
	t.Parallel()

	parts := newTestServer(t, openLimits(), &fakeStarter{})
	rec := postJSON(t, parts.server.Handler(), "/v1/scans", map[string]any{
		"email":     "a@x.com",
		"url":       "https://x.com",
		"max_pages": 10,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])
	require.Equal(t, "pending", resp["status"])

	job, err := parts.queue.Status(context.Background(), resp["job_id"])
	require.NoError(t, err)
	require.Equal(t, a11y.TierFull, job.Tier)
	require.Equal(t, a11y.NotifyBasic, job.Notification, "notification defaults to basic")
	require.Equal(t, "x.com", job.SiteName, "site name falls back to the host")
	require.Equal(t, "10.0.0.1", job.ClientIP)
	require.Equal(t, 10, job.Options.MaxPages, "request overrides the default")
	require.Equal(t, 2, job.Options.MaxDepth, "unset fields keep server defaults")
	require.True(t, job.Options.GenerateTeaser)
}

func TestSubmitScan_Validation(t *testing.T) {
	t.Parallel()

	parts := newTestServer(t, openLimits(), &fakeStarter{})
	handler := parts.server.Handler()

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing email", map[string]any{"url": "https://x.com"}},
		{"bad email", map[string]any{"email": "nope", "url": "https://x.com"}},
		{"missing url", map[string]any{"email": "a@x.com"}},
		{"relative url", map[string]any{"email": "a@x.com", "url": "/pages"}},
		{"ftp url", map[string]any{"email": "a@x.com", "url": "ftp://x.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := postJSON(t, handler, "/v1/scans", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitScan_QuotaRejected(t *testing.T) {
	t.Parallel()

	limits := openLimits()
	limits.MaxConcurrentFull = 1
	parts := newTestServer(t, limits, &fakeStarter{})
	handler := parts.server.Handler()

	body := map[string]any{"email": "a@x.com", "url": "https://x.com"}
	require.Equal(t, http.StatusAccepted, postJSON(t, handler, "/v1/scans", body).Code)

	rec := postJSON(t, handler, "/v1/scans", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), quota.ReasonConcurrency)
}

func TestSubmitScan_QueueFullReleasesPermit(t *testing.T) {
	t.Parallel()

	q := queuemem.New(1, nil)
	limits := openLimits()
	limits.MaxConcurrentFull = 2
	gate := quota.New(limits, nil, nil)
	server := NewServer(q, gate, quota.NewPermitRegistry(), &fakeStarter{}, Config{}, nil, nil)

	body := map[string]any{"email": "a@x.com", "url": "https://x.com"}
	require.Equal(t, http.StatusAccepted, postJSON(t, server.Handler(), "/v1/scans", body).Code)
	require.Equal(t, http.StatusServiceUnavailable, postJSON(t, server.Handler(), "/v1/scans", body).Code)

	// The rejected request must have returned its slot: one of two remains
	// held by the accepted job, so one more acquire succeeds.
	d := gate.TryAcquire(a11y.TierFull, "z@x.com", "9.9.9.9", true)
	require.True(t, d.Allowed)
	d.Release()
}

func TestStarterScan_Synchronous(t *testing.T) {
	t.Parallel()

	result := &a11y.Result{
		Pages: []a11y.PageResult{
			{URL: "https://x.com/", Issues: []a11y.Issue{{Severity: a11y.SeverityCritical, Rule: "image-alt"}}},
		},
		Teaser:          &a11y.Teaser{ImageURL: "https://signed.example/t.png"},
		TotalPages:      1,
		SuccessfulPages: 1,
		DiscoveryMethod: a11y.DiscoverySitemapCrawling,
	}
	limits := openLimits()
	limits.MaxConcurrentStarter = 1
	parts := newTestServer(t, limits, &fakeStarter{result: result})
	handler := parts.server.Handler()

	body := map[string]any{"email": "a@x.com", "url": "https://x.com", "email_verified": true}
	rec := postJSON(t, handler, "/v1/scans/starter", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Score  int         `json:"score"`
		Result a11y.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 90, resp.Score)
	require.Equal(t, "https://signed.example/t.png", resp.Result.Teaser.ImageURL)

	// The single starter slot must be free again after the request.
	require.Equal(t, http.StatusOK, postJSON(t, handler, "/v1/scans/starter", body).Code)
}

func TestStarterScan_ErrorReleasesSlot(t *testing.T) {
	t.Parallel()

	limits := openLimits()
	limits.MaxConcurrentStarter = 1
	parts := newTestServer(t, limits, &fakeStarter{err: errors.New("browser crashed")})
	handler := parts.server.Handler()

	body := map[string]any{"email": "a@x.com", "url": "https://x.com", "email_verified": true}
	require.Equal(t, http.StatusInternalServerError, postJSON(t, handler, "/v1/scans/starter", body).Code)

	d := parts.gate.TryAcquire(a11y.TierStarter, "b@x.com", "8.8.8.8", true)
	require.True(t, d.Allowed, "slot must be released on the error path")
	d.Release()
}

func TestStarterScan_QuotaRejected(t *testing.T) {
	t.Parallel()

	limits := openLimits()
	limits.StarterUnverifiedPerIPPerHour = 1
	parts := newTestServer(t, limits, &fakeStarter{result: &a11y.Result{}})
	handler := parts.server.Handler()

	body := map[string]any{"email": "a@x.com", "url": "https://x.com"}
	require.Equal(t, http.StatusOK, postJSON(t, handler, "/v1/scans/starter", body).Code)

	rec := postJSON(t, handler, "/v1/scans/starter", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), quota.ReasonIPUnverifiedHourly)
}

func TestGetJobStatus(t *testing.T) {
	t.Parallel()

	parts := newTestServer(t, openLimits(), &fakeStarter{})
	handler := parts.server.Handler()

	rec := postJSON(t, handler, "/v1/scans", map[string]any{"email": "a@x.com", "url": "https://x.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created["job_id"], nil)
	statusRec := httptest.NewRecorder()
	handler.ServeHTTP(statusRec, req)
	require.Equal(t, http.StatusOK, statusRec.Code)
	require.Contains(t, statusRec.Body.String(), "pending")

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	missingRec := httptest.NewRecorder()
	handler.ServeHTTP(missingRec, req)
	require.Equal(t, http.StatusNotFound, missingRec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	parts := newTestServer(t, openLimits(), &fakeStarter{})
	handler := parts.server.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/scans", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
