package dispatch

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/opentalon/commandcenter/internal/agent"
)

const (
	DefaultMaxOutputBytes = 64 * 1024 // 64KB
	DefaultTimeout        = 30 * time.Second
)

const truncatedMarker = "\n[truncated: output exceeded size limit]"

// Guard bounds a provider invocation in time and output size and turns
// panics into errors.
type Guard struct {
	MaxOutputBytes int
	Timeout        time.Duration
}

func NewGuard() *Guard {
	return &Guard{
		MaxOutputBytes: DefaultMaxOutputBytes,
		Timeout:        DefaultTimeout,
	}
}

// TimeoutError reports that a provider did not answer in time.
type TimeoutError struct {
	Provider string
	Action   string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %q action %q timed out after %s", e.Provider, e.Action, e.After)
}

// Sanitize truncates output that exceeds MaxOutputBytes. The cut backs off to
// a rune boundary, so valid UTF-8 stays valid.
func (g *Guard) Sanitize(s string) string {
	if g.MaxOutputBytes <= 0 || len(s) <= g.MaxOutputBytes {
		return s
	}
	cut := g.MaxOutputBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMarker
}

type execResult struct {
	out string
	err error
}

// Execute runs p.Execute with a deadline. The provider sees a context that
// is cancelled on timeout; a provider that ignores it is abandoned.
func (g *Guard) Execute(ctx context.Context, p agent.Provider, action string, args []string) (string, error) {
	callCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execResult{err: fmt.Errorf("provider %q panicked: %v", p.Name(), r)}
			}
		}()
		out, err := p.Execute(callCtx, action, args)
		done <- execResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		return g.Sanitize(res.out), nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TimeoutError{Provider: p.Name(), Action: action, After: g.Timeout}
	}
}
