// Package memory implements browser.Session over canned HTML documents using goquery.
// It backs tests and replay of archived pages.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/steam-harvester/internal/browser"
)

// Page is one document served by the session.
type Page struct {
	// FinalURL is reported by Location after navigation. Empty means the requested URL.
	FinalURL string
	HTML     string
	// Err is returned by Navigate instead of loading the page.
	Err error
	// Actions maps a clicked or submitted selector to the document shown afterwards.
	Actions map[string]*Page
	// Hidden lists selectors that match elements which cannot be interacted with.
	Hidden []string
}

// Session serves registered pages by URL.
type Session struct {
	mu       sync.Mutex
	pages    map[string]*Page
	current  *Page
	location string
	doc      *goquery.Document
	values   map[string]string
	visits   []string
	closed   bool
}

// New returns a Session serving pages keyed by URL.
func New(pages map[string]*Page) *Session {
	if pages == nil {
		pages = map[string]*Page{}
	}
	return &Session{pages: pages, values: map[string]string{}}
}

// AddPage registers a page for url.
func (s *Session) AddPage(url string, page *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = page
}

// Visits returns every URL passed to Navigate, in order.
func (s *Session) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

// Value returns the last value set on selector.
func (s *Session) Value(selector string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[selector]
}

// Navigate implements browser.Session.
func (s *Session) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrSessionClosed
	}
	s.visits = append(s.visits, url)
	page, ok := s.pages[url]
	if !ok {
		return fmt.Errorf("memory: no page registered for %s", url)
	}
	if page.Err != nil {
		return page.Err
	}
	location := url
	if page.FinalURL != "" {
		location = page.FinalURL
	}
	return s.load(page, location)
}

func (s *Session) load(page *Page, location string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return fmt.Errorf("memory: parse document: %w", err)
	}
	s.current = page
	s.location = location
	s.doc = doc
	s.values = map[string]string{}
	return nil
}

// Location implements browser.Session.
func (s *Session) Location(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", browser.ErrSessionClosed
	}
	return s.location, nil
}

func (s *Session) find(selector string) (*goquery.Selection, error) {
	if s.closed {
		return nil, browser.ErrSessionClosed
	}
	if s.doc == nil {
		return &goquery.Selection{}, nil
	}
	return s.doc.Find(selector), nil
}

// Count implements browser.Session.
func (s *Session) Count(_ context.Context, selector string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(selector)
	if err != nil {
		return 0, err
	}
	return sel.Length(), nil
}

// Text implements browser.Session.
func (s *Session) Text(_ context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(selector)
	if err != nil {
		return "", err
	}
	if sel.Length() == 0 {
		return "", fmt.Errorf("%s: %w", selector, browser.ErrNotFound)
	}
	return InnerText(sel.First()), nil
}

// Texts implements browser.Session.
func (s *Session) Texts(_ context.Context, selector string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(selector)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, item *goquery.Selection) {
		out = append(out, InnerText(item))
	})
	return out, nil
}

// Attribute implements browser.Session.
func (s *Session) Attribute(_ context.Context, selector, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(selector)
	if err != nil {
		return "", err
	}
	val, ok := sel.First().Attr(name)
	if !ok {
		return "", fmt.Errorf("%s[%s]: %w", selector, name, browser.ErrNotFound)
	}
	return val, nil
}

// Attributes implements browser.Session.
func (s *Session) Attributes(_ context.Context, selector, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	sel.Each(func(_ int, item *goquery.Selection) {
		if val, ok := item.Attr(name); ok {
			out = append(out, val)
		}
	})
	return out, nil
}

// Click implements browser.Session.
func (s *Session) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interact(selector)
}

// Submit implements browser.Session.
func (s *Session) Submit(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interact(selector)
}

func (s *Session) interact(selector string) error {
	sel, err := s.find(selector)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return fmt.Errorf("%s: %w", selector, browser.ErrNotFound)
	}
	if slices.Contains(s.current.Hidden, selector) {
		return fmt.Errorf("%s: %w", selector, browser.ErrNotInteractable)
	}
	next, ok := s.current.Actions[selector]
	if !ok {
		return nil
	}
	location := s.location
	if next.FinalURL != "" {
		location = next.FinalURL
	}
	values := s.values
	if err := s.load(next, location); err != nil {
		return err
	}
	s.values = values
	return nil
}

// SetValue implements browser.Session.
func (s *Session) SetValue(_ context.Context, selector, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(selector)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return fmt.Errorf("%s: %w", selector, browser.ErrNotFound)
	}
	s.values[selector] = value
	return nil
}

// HTML implements browser.Session.
func (s *Session) HTML(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", browser.ErrSessionClosed
	}
	if s.doc == nil {
		return "", nil
	}
	out, err := goquery.OuterHtml(s.doc.Selection)
	if err != nil {
		return "", fmt.Errorf("memory: render document: %w", err)
	}
	return out, nil
}

// Close implements browser.Session. Every later call fails with browser.ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var blockElements = map[string]bool{
	"address": true, "article": true, "blockquote": true, "div": true, "dl": true, "dt": true,
	"dd": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "li": true, "ol": true, "p": true, "section": true, "table": true, "tr": true,
	"ul": true,
}

// InnerText approximates the browser's innerText: <br> and block elements break lines,
// runs of whitespace collapse, and blank lines are dropped.
func InnerText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "br":
				b.WriteByte('\n')
				return
			}
		}
		block := n.Type == html.ElementNode && blockElements[n.Data]
		if block {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
