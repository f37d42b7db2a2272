package quota

import (
	"sync"
	"time"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

// pruneThreshold bounds memory for the in-process counter map. Above it,
// expired windows are swept on the next consume.
const pruneThreshold = 4096

// probe is one fixed-window limit to check and consume.
type probe struct {
	key    string
	window time.Duration
	limit  int
	reason string
}

type window struct {
	start time.Time
	count int
}

// windowCounters implements fixed-window rate counting keyed by caller
// identity. All probes in one Consume call commit atomically: either every
// counter advances or none do.
type windowCounters struct {
	mu      sync.Mutex
	entries map[string]*window
	clock   a11y.Clock
}

func newWindowCounters(clock a11y.Clock) *windowCounters {
	if clock == nil {
		clock = a11y.SystemClock{}
	}
	return &windowCounters{
		entries: make(map[string]*window),
		clock:   clock,
	}
}

// Consume checks every probe against its limit and, only if all pass,
// increments them. On rejection it returns the failing probe's reason.
func (c *windowCounters) Consume(probes []probe) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if len(c.entries) > pruneThreshold {
		c.prune(now)
	}

	for _, p := range probes {
		if p.limit <= 0 {
			continue
		}
		entry := c.entries[p.key]
		if entry != nil && now.Sub(entry.start) < p.window && entry.count >= p.limit {
			return false, p.reason
		}
	}

	for _, p := range probes {
		if p.limit <= 0 {
			continue
		}
		entry := c.entries[p.key]
		if entry == nil || now.Sub(entry.start) >= p.window {
			c.entries[p.key] = &window{start: now, count: 1}
			continue
		}
		entry.count++
	}
	return true, ""
}

// prune drops windows whose longest plausible duration has passed. Daily
// windows are the widest in use.
func (c *windowCounters) prune(now time.Time) {
	for key, entry := range c.entries {
		if now.Sub(entry.start) >= 24*time.Hour {
			delete(c.entries, key)
		}
	}
}
