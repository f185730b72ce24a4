// Package headless drives a headless Chrome for sources that render their
// results client-side.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Config controls the behavior of the headless browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Browser owns a Chrome exec allocator shared by sessions.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless browser backed by chromedp.
func New(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (b *Browser) Close() {
	b.allocCancel()
}

// Session is one browser tab. The registry flow needs stateful multi-page
// navigation (list, detail, back), so the tab outlives individual actions.
type Session struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSession opens a tab, waiting for a parallelism slot if configured.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	if b.limiter != nil {
		select {
		case b.limiter <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
		}
	}
	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	s := &Session{browser: b, ctx: taskCtx, cancel: taskCancel}
	if err := s.run(ctx, b.cfg.NavigationTimeout, b.setupAction()); err != nil {
		s.Close()
		return nil, fmt.Errorf("session setup: %w", err)
	}
	return s, nil
}

// Close releases the tab and its parallelism slot.
func (s *Session) Close() {
	s.cancel()
	if s.browser.limiter != nil {
		select {
		case <-s.browser.limiter:
		default:
		}
	}
}

// Navigate loads the URL and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.browser.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Click clicks the first node matching selector and waits for the document
// to settle.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, s.browser.cfg.NavigationTimeout,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// WaitReady polls the JavaScript expression until it evaluates truthy or the
// timeout elapses. Used for pages that populate content asynchronously after
// navigation.
func (s *Session) WaitReady(ctx context.Context, expr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var ready bool
		err := s.run(ctx, s.browser.cfg.NavigationTimeout, chromedp.Evaluate(expr, &ready))
		if err == nil && ready {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("wait for content: %w", err)
			}
			return fmt.Errorf("wait for content: timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for content canceled: %w", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// HTML returns the rendered document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.browser.cfg.NavigationTimeout,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", err
	}
	return html, nil
}

// Location returns the tab's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.browser.cfg.NavigationTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Back navigates one entry back in the tab history.
func (s *Session) Back(ctx context.Context) error {
	return s.run(ctx, s.browser.cfg.NavigationTimeout,
		chromedp.NavigateBack(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// run executes actions on the tab context with a bounded timeout, honoring
// caller cancellation.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, opCancel := context.WithTimeout(s.ctx, timeout)
	defer opCancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			opCancel()
		case <-stop:
		}
	}()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}
