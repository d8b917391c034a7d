// Package rodbrowser implements browser.Session with go-rod and the stealth page patches.
package rodbrowser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/JakeFAU/steam-harvester/internal/browser"
)

// Config controls the launched browser.
type Config struct {
	Headless          bool
	UserAgent         string
	AcceptLanguage    string
	NavigationTimeout time.Duration
	Settle            time.Duration
}

// Session implements browser.Session on one stealth page.
type Session struct {
	cfg     Config
	browser *rod.Browser
	page    *rod.Page
}

// New launches Chromium and opens a stealth page.
func New(cfg Config) (*Session, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	controlURL, err := launcher.New().
		Headless(cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open stealth page: %w", err)
	}
	if cfg.UserAgent != "" || cfg.AcceptLanguage != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.AcceptLanguage,
		})
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("set user-agent: %w", err)
		}
	}
	return &Session{cfg: cfg, browser: b, page: page}, nil
}

// Close shuts the browser down.
func (s *Session) Close() error {
	if err := s.browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// bound returns the page scoped to ctx and the navigation timeout.
func (s *Session) bound(ctx context.Context) *rod.Page {
	return s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout)
}

func (s *Session) wrap(err error) error {
	if err == nil {
		return nil
	}
	if s.browser.GetContext().Err() != nil {
		return fmt.Errorf("%w: %v", browser.ErrSessionClosed, err)
	}
	return err
}

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page := s.bound(ctx)
	if err := page.Navigate(url); err != nil {
		if strings.Contains(err.Error(), "ERR_TOO_MANY_REDIRECTS") {
			return fmt.Errorf("%s: %w", url, browser.ErrTooManyRedirects)
		}
		return s.wrap(fmt.Errorf("navigate %s: %w", url, err))
	}
	if err := page.WaitLoad(); err != nil {
		return s.wrap(fmt.Errorf("wait load %s: %w", url, err))
	}
	if s.cfg.Settle > 0 {
		_ = page.WaitStable(s.cfg.Settle)
	}
	return nil
}

// Location implements browser.Session.
func (s *Session) Location(ctx context.Context) (string, error) {
	info, err := s.bound(ctx).Info()
	if err != nil {
		return "", s.wrap(fmt.Errorf("page info: %w", err))
	}
	return info.URL, nil
}

func (s *Session) elements(ctx context.Context, selector string) (rod.Elements, error) {
	els, err := s.bound(ctx).Elements(selector)
	if err != nil {
		return nil, s.wrap(fmt.Errorf("query %s: %w", selector, err))
	}
	return els, nil
}

func (s *Session) first(ctx context.Context, selector string) (*rod.Element, error) {
	els, err := s.elements(ctx, selector)
	if err != nil {
		return nil, err
	}
	if els.Empty() {
		return nil, fmt.Errorf("%s: %w", selector, browser.ErrNotFound)
	}
	return els.First(), nil
}

// Count implements browser.Session.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	els, err := s.elements(ctx, selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// Text implements browser.Session.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	el, err := s.first(ctx, selector)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", s.wrap(fmt.Errorf("text %s: %w", selector, err))
	}
	return strings.TrimSpace(text), nil
}

// Texts implements browser.Session.
func (s *Session) Texts(ctx context.Context, selector string) ([]string, error) {
	els, err := s.elements(ctx, selector)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			return nil, s.wrap(fmt.Errorf("text %s: %w", selector, err))
		}
		out = append(out, strings.TrimSpace(text))
	}
	return out, nil
}

// Attribute implements browser.Session.
func (s *Session) Attribute(ctx context.Context, selector, name string) (string, error) {
	el, err := s.first(ctx, selector)
	if err != nil {
		return "", err
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", s.wrap(fmt.Errorf("attribute %s[%s]: %w", selector, name, err))
	}
	if val == nil {
		return "", fmt.Errorf("%s[%s]: %w", selector, name, browser.ErrNotFound)
	}
	return *val, nil
}

// Attributes implements browser.Session.
func (s *Session) Attributes(ctx context.Context, selector, name string) ([]string, error) {
	els, err := s.elements(ctx, selector)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, el := range els {
		val, err := el.Attribute(name)
		if err != nil {
			return nil, s.wrap(fmt.Errorf("attribute %s[%s]: %w", selector, name, err))
		}
		if val != nil {
			out = append(out, *val)
		}
	}
	return out, nil
}

// Click implements browser.Session.
func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.first(ctx, selector)
	if err != nil {
		return err
	}
	visible, err := el.Visible()
	if err != nil {
		return s.wrap(fmt.Errorf("visible %s: %w", selector, err))
	}
	if !visible {
		return fmt.Errorf("%s: %w", selector, browser.ErrNotInteractable)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		var notInteractable *rod.NotInteractableError
		if errors.As(err, &notInteractable) {
			return fmt.Errorf("%s: %w", selector, browser.ErrNotInteractable)
		}
		return s.wrap(fmt.Errorf("click %s: %w", selector, err))
	}
	if s.cfg.Settle > 0 {
		_ = s.bound(ctx).WaitStable(s.cfg.Settle)
	}
	return nil
}

// SetValue implements browser.Session.
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	el, err := s.first(ctx, selector)
	if err != nil {
		return err
	}
	_, err = el.Eval(`function (v) {
		this.value = v;
		this.dispatchEvent(new Event("change", { bubbles: true }));
	}`, value)
	if err != nil {
		return s.wrap(fmt.Errorf("set value %s: %w", selector, err))
	}
	return nil
}

// Submit implements browser.Session.
func (s *Session) Submit(ctx context.Context, selector string) error {
	el, err := s.first(ctx, selector)
	if err != nil {
		return err
	}
	wait := s.bound(ctx).WaitNavigation(proto.PageLifecycleEventNameLoad)
	if _, err := el.Eval(`function () { this.submit(); }`); err != nil {
		return s.wrap(fmt.Errorf("submit %s: %w", selector, err))
	}
	wait()
	return nil
}

// HTML implements browser.Session.
func (s *Session) HTML(ctx context.Context) (string, error) {
	html, err := s.bound(ctx).HTML()
	if err != nil {
		return "", s.wrap(fmt.Errorf("page html: %w", err))
	}
	return html, nil
}
