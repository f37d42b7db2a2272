// Package auditjs supplies the in-page accessibility audit script.
//
// The bundled first-party ruleset is the primary source; when a CDN URL is
// configured and reachable, the full axe-core engine is fetched instead and
// wrapped so both variants expose the same entrypoint. The resolved source is
// cached for the lifetime of the process.
package auditjs

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

//go:embed audit.js
var bundledScript string

// EntryExpression is the in-page call the scanner evaluates after injecting
// the script returned by Source. Both the bundled ruleset and the CDN wrapper
// define it; it returns a Promise of an axe-style result object.
const EntryExpression = "window.__pagegauge_audit()"

// cdnAdapter bridges the axe-core API to the bundled entrypoint, adding the
// bounding rects the teaser generator needs for marker placement.
const cdnAdapter = `
;window.__pagegauge_audit = function () {
  return axe.run(document, { resultTypes: ['violations'] }).then(function (res) {
    res.violations.forEach(function (v) {
      v.nodes.forEach(function (n) {
        try {
          var el = document.querySelector(n.target[0]);
          if (el) {
            var r = el.getBoundingClientRect();
            n.boundingRect = { x: r.x, y: r.y, width: r.width, height: r.height };
          }
        } catch (e) {}
      });
    });
    return res;
  });
};`

// Provider resolves the audit script source once per process.
type Provider struct {
	cdnURL string
	client *http.Client
	logger *zap.Logger

	once   sync.Once
	source string
}

// NewProvider builds a Provider. cdnURL may be empty to force the bundled
// ruleset.
func NewProvider(cdnURL string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cdnURL: cdnURL,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// Source returns the audit script to inject. The CDN engine is preferred when
// configured; any fetch failure falls back to the bundled ruleset and is only
// logged. Never returns an empty script.
func (p *Provider) Source(ctx context.Context) string {
	p.once.Do(func() {
		if p.cdnURL == "" {
			p.source = bundledScript
			return
		}
		src, err := p.fetchCDN(ctx)
		if err != nil {
			p.logger.Warn("audit script CDN fetch failed, using bundled ruleset",
				zap.String("url", p.cdnURL), zap.Error(err))
			p.source = bundledScript
			return
		}
		p.source = src + cdnAdapter
	})
	return p.source
}

func (p *Provider) fetchCDN(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cdnURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch audit script: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch audit script: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read audit script: %w", err)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("audit script body is empty")
	}
	return string(body), nil
}
