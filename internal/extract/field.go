// Package extract turns a loaded entry page into a partial record using ordered,
// independently failable strategies per field.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/steam-harvester/internal/browser"
)

// Status is the outcome of one field strategy.
type Status int

// Field outcomes.
const (
	StatusAbsent Status = iota
	StatusFound
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusMalformed:
		return "malformed"
	default:
		return "absent"
	}
}

// Field carries a value together with how it was obtained.
type Field[T any] struct {
	Value  T
	Status Status
	Reason string
}

// Found wraps a parsed value.
func Found[T any](v T) Field[T] { return Field[T]{Value: v, Status: StatusFound} }

// Absent marks a field whose source element does not exist.
func Absent[T any]() Field[T] { return Field[T]{} }

// Malformed marks a field whose source exists but could not be parsed.
func Malformed[T any](format string, args ...any) Field[T] {
	return Field[T]{Status: StatusMalformed, Reason: fmt.Sprintf(format, args...)}
}

// Ptr returns a pointer to the value when found and nil otherwise.
func (f Field[T]) Ptr() *T {
	if f.Status != StatusFound {
		return nil
	}
	v := f.Value
	return &v
}

// Strategy produces one attempt at a field. A returned error is a session failure, not a
// parse failure, and aborts extraction.
type Strategy[T any] func(ctx context.Context, s browser.Session) (Field[T], error)

// First evaluates strategies in order and returns the first Found result. For required fields a
// Malformed result stops evaluation; for optional ones the next strategy is tried. When nothing is
// found the last Malformed result is returned, or Absent.
func First[T any](ctx context.Context, s browser.Session, required bool, strategies ...Strategy[T]) (Field[T], error) {
	var last Field[T]
	for _, strategy := range strategies {
		f, err := strategy(ctx, s)
		if err != nil {
			return Field[T]{}, err
		}
		switch f.Status {
		case StatusFound:
			return f, nil
		case StatusMalformed:
			if required {
				return f, nil
			}
			last = f
		}
	}
	return last, nil
}

// FirstPresent evaluates strategies in order and returns the first result whose source exists,
// Found or Malformed. Later strategies only stand in for an absent source.
func FirstPresent[T any](ctx context.Context, s browser.Session, strategies ...Strategy[T]) (Field[T], error) {
	for _, strategy := range strategies {
		f, err := strategy(ctx, s)
		if err != nil {
			return Field[T]{}, err
		}
		if f.Status != StatusAbsent {
			return f, nil
		}
	}
	return Absent[T](), nil
}

// MalformedError reports a required field that could not be produced.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("required field %s: %s", e.Field, e.Reason)
}

// Require converts a non-found field into a MalformedError.
func Require[T any](name string, f Field[T]) (T, error) {
	switch f.Status {
	case StatusFound:
		return f.Value, nil
	case StatusMalformed:
		var zero T
		return zero, &MalformedError{Field: name, Reason: f.Reason}
	default:
		var zero T
		return zero, &MalformedError{Field: name, Reason: "not present"}
	}
}

// textOf reads the first match of selector, mapping not-found to Absent.
func textOf(selector string) Strategy[string] {
	return func(ctx context.Context, s browser.Session) (Field[string], error) {
		text, err := s.Text(ctx, selector)
		if errors.Is(err, browser.ErrNotFound) {
			return Absent[string](), nil
		}
		if err != nil {
			return Field[string]{}, fmt.Errorf("read %s: %w", selector, err)
		}
		if text == "" {
			return Malformed[string]("%s is empty", selector), nil
		}
		return Found(text), nil
	}
}

// parsed chains a text strategy into a parser.
func parsed[T any](source Strategy[string], parse func(string) Field[T]) Strategy[T] {
	return func(ctx context.Context, s browser.Session) (Field[T], error) {
		raw, err := source(ctx, s)
		if err != nil {
			return Field[T]{}, err
		}
		switch raw.Status {
		case StatusFound:
			return parse(raw.Value), nil
		case StatusMalformed:
			return Field[T]{Status: StatusMalformed, Reason: raw.Reason}, nil
		default:
			return Absent[T](), nil
		}
	}
}
