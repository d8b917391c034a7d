// Package browser declares the capability surface the harvester needs from a browser
// automation session. Drivers live in subpackages.
package browser

import (
	"context"
	"errors"
)

var (
	// ErrNotFound signals that a selector matched nothing.
	ErrNotFound = errors.New("browser: element not found")
	// ErrNotInteractable signals that a matched element cannot be clicked or submitted.
	ErrNotInteractable = errors.New("browser: element not interactable")
	// ErrTooManyRedirects signals that navigation ended in a redirect loop.
	ErrTooManyRedirects = errors.New("browser: too many redirects")
	// ErrSessionClosed signals that the session itself is unusable. Callers must stop.
	ErrSessionClosed = errors.New("browser: session closed")
)

// Session drives a single browser tab. Selectors are CSS selectors.
// Implementations are not safe for concurrent use.
type Session interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Location returns the URL of the current document.
	Location(ctx context.Context) (string, error)
	// Count returns the number of elements matching selector without waiting.
	Count(ctx context.Context, selector string) (int, error)
	// Text returns the trimmed text of the first match or ErrNotFound.
	Text(ctx context.Context, selector string) (string, error)
	// Texts returns the trimmed text of every match. No match yields an empty slice.
	Texts(ctx context.Context, selector string) ([]string, error)
	// Attribute returns an attribute of the first match or ErrNotFound.
	Attribute(ctx context.Context, selector, name string) (string, error)
	// Attributes returns an attribute of every match that carries it.
	Attributes(ctx context.Context, selector, name string) ([]string, error)
	// Click clicks the first match.
	Click(ctx context.Context, selector string) error
	// SetValue sets the value of the first matching form control.
	SetValue(ctx context.Context, selector, value string) error
	// Submit submits the first matching form and waits for the next document.
	Submit(ctx context.Context, selector string) error
	// HTML returns the outer HTML of the current document.
	HTML(ctx context.Context) (string, error)
	// Close releases the browser.
	Close() error
}

// IsFatal reports whether err means the session can no longer be used.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}
