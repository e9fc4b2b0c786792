// Package failover holds the fallback combinator shared by the resolver and
// providers: try a primary, validate its result, otherwise use a secondary.
package failover

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Attempt produces a candidate value.
type Attempt[T any] func(ctx context.Context) (T, error)

// ErrUnusable is returned when an attempt succeeded but its value was rejected.
var ErrUnusable = errors.New("result rejected")

// PanicError wraps a panic recovered from an attempt.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// WithFallback runs primary and returns its value when it succeeds and
// usable accepts it (a nil usable accepts everything). Otherwise it returns
// secondary's value together with the reason primary was not used. Panics in
// primary are recovered and treated as failures.
func WithFallback[T any](ctx context.Context, primary Attempt[T], secondary func(context.Context) T, usable func(T) bool) (T, error) {
	v, err := try(ctx, primary, usable)
	if err == nil {
		return v, nil
	}
	return secondary(ctx), err
}

// First tries attempts in order and returns the first usable value. When
// none succeeds it returns an *ExhaustedError listing every failure.
func First[T any](ctx context.Context, attempts []Attempt[T], usable func(T) bool) (T, error) {
	var errs []error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		v, err := try(ctx, a, usable)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
	}
	var zero T
	return zero, &ExhaustedError{Errors: errs}
}

func try[T any](ctx context.Context, a Attempt[T], usable func(T) bool) (v T, err error) {
	if a == nil {
		return v, errors.New("no attempt configured")
	}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, &PanicError{Value: r}
		}
	}()
	v, err = a(ctx)
	if err != nil {
		return v, err
	}
	if usable != nil && !usable(v) {
		var zero T
		return zero, ErrUnusable
	}
	return v, nil
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Errors []error
}

func (e *ExhaustedError) Error() string {
	if len(e.Errors) == 0 {
		return "all attempts exhausted: none configured"
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "all attempts exhausted: " + strings.Join(msgs, "; ")
}

func (e *ExhaustedError) Unwrap() []error { return e.Errors }
