// Package browser manages the shared headless Chrome process.
//
// One browser process is booted lazily per worker process and reused for its
// lifetime; each page scan gets its own isolated browsing context. Contexts,
// not the browser, are the unit of isolation.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls the shared browser process.
type Config struct {
	UserAgent string
}

// Provider lazily boots and hands out isolated browsing contexts from a
// single shared allocator. Safe for concurrent use after boot.
type Provider struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
	closed      bool
}

// NewProvider builds a Provider. The browser process is not started until the
// first NewContext call.
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger}
}

// NewContext returns an isolated chromedp context sharing the one browser
// process, plus its cancel function. The caller owns the context and must
// cancel it on every exit path.
func (p *Provider) NewContext(parent context.Context) (context.Context, context.CancelFunc, error) {
	allocator, err := p.ensureAllocator()
	if err != nil {
		return nil, nil, err
	}
	// Tie page lifetime to both the shared allocator and the caller's
	// cancellation.
	taskCtx, taskCancel := chromedp.NewContext(allocator)
	stop := context.AfterFunc(parent, taskCancel)
	cancel := func() {
		stop()
		taskCancel()
	}
	return taskCtx, cancel, nil
}

// ensureAllocator performs double-checked lazy initialization of the shared
// exec allocator. The allocator is never mutated after boot.
func (p *Provider) ensureAllocator() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("browser provider is closed")
	}
	if p.allocator != nil {
		return p.allocator, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if p.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.cfg.UserAgent))
	}
	p.allocator, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	p.logger.Info("headless browser allocator booted")
	return p.allocator, nil
}

// Close shuts down the shared browser process. Subsequent NewContext calls
// fail.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.allocCancel != nil {
		p.allocCancel()
	}
}
