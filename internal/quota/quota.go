// Package quota gates scan admission with per-tier concurrency slots and
// fixed-window rate counters.
package quota

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagegauge/pagegauge/internal/a11y"
	"github.com/pagegauge/pagegauge/internal/metrics"
)

// Rejection reasons surfaced to callers and metrics.
const (
	ReasonConcurrency        = "concurrency"
	ReasonIPHourly           = "ip_hourly"
	ReasonIPUnverifiedHourly = "ip_unverified_hourly"
	ReasonEmailDaily         = "email_daily"
)

// Limits bounds admission per tier.
type Limits struct {
	MaxConcurrentStarter          int
	MaxConcurrentFull             int
	StarterPerIPPerHour           int
	StarterUnverifiedPerIPPerHour int
	StarterPerEmailPerDay         int
	FullPerIPPerHour              int
	FullPerEmailPerDay            int
	// BypassEmail skips rate counters (not concurrency slots) for one
	// well-known operator address.
	BypassEmail string
}

// Decision is the outcome of one admission attempt. Allowed decisions carry a
// release handle that must be called exactly when the admitted scan reaches a
// terminal state; calling it more than once is safe.
type Decision struct {
	Allowed bool
	Reason  string

	release func()
	once    sync.Once
}

// Release frees the concurrency slot held by an allowed decision.
func (d *Decision) Release() {
	if d == nil || d.release == nil {
		return
	}
	d.once.Do(d.release)
}

// Gate is the admission controller for both scan tiers.
type Gate struct {
	limits   Limits
	starter  chan struct{}
	full     chan struct{}
	counters *windowCounters
	logger   *zap.Logger
}

// New builds a Gate. clock is injectable for window tests; nil uses the
// system clock.
func New(limits Limits, clock a11y.Clock, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.MaxConcurrentStarter < 1 {
		limits.MaxConcurrentStarter = 1
	}
	if limits.MaxConcurrentFull < 1 {
		limits.MaxConcurrentFull = 1
	}
	return &Gate{
		limits:   limits,
		starter:  make(chan struct{}, limits.MaxConcurrentStarter),
		full:     make(chan struct{}, limits.MaxConcurrentFull),
		counters: newWindowCounters(clock),
		logger:   logger,
	}
}

// TryAcquire attempts admission without blocking. The concurrency slot is
// taken first and handed back if any rate counter rejects, so rejected
// callers never leak capacity.
func (g *Gate) TryAcquire(tier a11y.Tier, email, clientIP string, emailVerified bool) *Decision {
	slots := g.starter
	if tier == a11y.TierFull {
		slots = g.full
	}

	select {
	case slots <- struct{}{}:
	default:
		return g.reject(tier, ReasonConcurrency, email, clientIP)
	}
	release := func() { <-slots }

	if g.isBypass(email) {
		return &Decision{Allowed: true, release: release}
	}

	ok, reason := g.counters.Consume(g.probes(tier, email, clientIP, emailVerified))
	if !ok {
		release()
		return g.reject(tier, reason, email, clientIP)
	}

	return &Decision{Allowed: true, release: release}
}

func (g *Gate) probes(tier a11y.Tier, email, clientIP string, emailVerified bool) []probe {
	email = strings.ToLower(strings.TrimSpace(email))
	if tier == a11y.TierFull {
		return []probe{
			{key: "full:ip:" + clientIP, window: time.Hour, limit: g.limits.FullPerIPPerHour, reason: ReasonIPHourly},
			{key: "full:email:" + email, window: 24 * time.Hour, limit: g.limits.FullPerEmailPerDay, reason: ReasonEmailDaily},
		}
	}

	probes := []probe{
		{key: "starter:ip:" + clientIP, window: time.Hour, limit: g.limits.StarterPerIPPerHour, reason: ReasonIPHourly},
	}
	if !emailVerified {
		probes = append(probes, probe{
			key:    "starter:unverified:ip:" + clientIP,
			window: time.Hour,
			limit:  g.limits.StarterUnverifiedPerIPPerHour,
			reason: ReasonIPUnverifiedHourly,
		})
	}
	probes = append(probes, probe{
		key:    "starter:email:" + email,
		window: 24 * time.Hour,
		limit:  g.limits.StarterPerEmailPerDay,
		reason: ReasonEmailDaily,
	})
	return probes
}

func (g *Gate) isBypass(email string) bool {
	return g.limits.BypassEmail != "" &&
		strings.EqualFold(strings.TrimSpace(email), g.limits.BypassEmail)
}

func (g *Gate) reject(tier a11y.Tier, reason, email, clientIP string) *Decision {
	g.logger.Info("scan admission rejected",
		zap.String("tier", string(tier)),
		zap.String("reason", reason),
		zap.String("email", email),
		zap.String("client_ip", clientIP))
	metrics.ObserveQuotaRejection(string(tier), reason)
	return &Decision{Allowed: false, Reason: reason}
}
