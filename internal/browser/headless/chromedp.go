// Package headless implements browser.Session on a single headless Chrome tab via chromedp.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/steam-harvester/internal/browser"
)

// Config controls the behavior of the chromedp session.
type Config struct {
	Headless          bool
	UserAgent         string
	Headers           http.Header
	NavigationTimeout time.Duration
	// Settle is slept after navigation and clicks so late scripts can finish rendering.
	Settle time.Duration
}

// Session implements browser.Session with one tab reused for the whole run.
type Session struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New launches Chrome and opens the tab used by every call.
func New(cfg Config) (*Session, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
	if err := chromedp.Run(browserCtx, s.networkSetupAction()); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return s, nil
}

// Close tears down the tab and the allocator.
func (s *Session) Close() error {
	s.browserCancel()
	s.allocCancel()
	return nil
}

func (s *Session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(s.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(s.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// run executes actions on the shared tab, bounded by the navigation timeout and the caller's ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.browserCtx.Err() != nil {
		return browser.ErrSessionClosed
	}
	taskCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if s.browserCtx.Err() != nil {
			return fmt.Errorf("%w: %v", browser.ErrSessionClosed, err)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.Settle),
	)
	if err != nil && isRedirectLoop(err) {
		return fmt.Errorf("%s: %w", url, browser.ErrTooManyRedirects)
	}
	return err
}

// Location implements browser.Session.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Count implements browser.Session.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (s *Session) require(ctx context.Context, selector string) error {
	n, err := s.Count(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", selector, browser.ErrNotFound)
	}
	return nil
}

// Text implements browser.Session.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	if err := s.require(ctx, selector); err != nil {
		return "", err
	}
	var text string
	if err := s.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Texts implements browser.Session.
func (s *Session) Texts(ctx context.Context, selector string) ([]string, error) {
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).map(e => (e.innerText || "").trim())`,
		quoteJS(selector),
	)
	var out []string
	if err := s.run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// Attribute implements browser.Session.
func (s *Session) Attribute(ctx context.Context, selector, name string) (string, error) {
	if err := s.require(ctx, selector); err != nil {
		return "", err
	}
	var (
		val string
		ok  bool
	)
	if err := s.run(ctx, chromedp.AttributeValue(selector, name, &val, &ok, chromedp.ByQuery)); err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s[%s]: %w", selector, name, browser.ErrNotFound)
	}
	return val, nil
}

// Attributes implements browser.Session.
func (s *Session) Attributes(ctx context.Context, selector, name string) ([]string, error) {
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).filter(e => e.hasAttribute(%[2]s)).map(e => e.getAttribute(%[2]s))`,
		quoteJS(selector), quoteJS(name),
	)
	var out []string
	if err := s.run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// Click implements browser.Session. Elements without a rendered box are not interactable.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.require(ctx, selector); err != nil {
		return err
	}
	script := fmt.Sprintf(`(() => {
		const e = document.querySelector(%s);
		if (!e) return false;
		const r = e.getBoundingClientRect();
		return e.getClientRects().length > 0 && r.width > 0 && r.height > 0;
	})()`, quoteJS(selector))
	var visible bool
	if err := s.run(ctx, chromedp.Evaluate(script, &visible)); err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("%s: %w", selector, browser.ErrNotInteractable)
	}
	return s.run(ctx,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(s.cfg.Settle),
	)
}

// SetValue implements browser.Session.
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	if err := s.require(ctx, selector); err != nil {
		return err
	}
	return s.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

// Submit implements browser.Session.
func (s *Session) Submit(ctx context.Context, selector string) error {
	if err := s.require(ctx, selector); err != nil {
		return err
	}
	return s.run(ctx,
		chromedp.Submit(selector, chromedp.ByQuery),
		chromedp.Sleep(s.cfg.Settle),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// HTML implements browser.Session.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func isRedirectLoop(err error) bool {
	return strings.Contains(err.Error(), "ERR_TOO_MANY_REDIRECTS")
}

func quoteJS(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// forwardCancel cancels the task when parent finishes first. The returned func stops forwarding.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}
