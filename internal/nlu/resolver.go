// Package nlu resolves free-form text into a structured command, using the
// heuristic parser for command-shaped input and an optional natural-language
// collaborator for everything else.
package nlu

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/actor"
	"github.com/opentalon/commandcenter/internal/command"
	"github.com/opentalon/commandcenter/internal/failover"
	"github.com/opentalon/commandcenter/internal/metrics"
)

// DefaultTimeout bounds a single collaborator call.
const DefaultTimeout = 5 * time.Second

// Understander turns natural-language text into a structured command.
// catalog describes the available commands.
type Understander interface {
	Understand(ctx context.Context, session, text string, catalog map[string]any) (command.Structured, error)
}

var commandShape = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\s+\S+)*\s*$`)

// Resolver is safe for concurrent use.
type Resolver struct {
	parser  *command.Parser
	catalog func() map[string]any
	nlu     Understander
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Resolver)

// WithUnderstander enables the natural-language path.
func WithUnderstander(u Understander) Option { return func(r *Resolver) { r.nlu = u } }

func WithTimeout(d time.Duration) Option { return func(r *Resolver) { r.timeout = d } }

// WithCatalog sets the catalog passed to the collaborator.
func WithCatalog(fn func() map[string]any) Option { return func(r *Resolver) { r.catalog = fn } }

func WithLogger(l *zap.Logger) Option { return func(r *Resolver) { r.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Resolver) { r.metrics = m } }

func NewResolver(parser *command.Parser, opts ...Option) *Resolver {
	r := &Resolver{
		parser:  parser,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
		catalog: func() map[string]any { return nil },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// LooksStructured reports whether text already reads as a command line, a
// word followed by whitespace-separated tokens. Such input never reaches the
// collaborator, whether or not the head names a registered command.
func (r *Resolver) LooksStructured(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "" || commandShape.MatchString(trimmed)
}

// Resolve always returns a command; every collaborator failure falls back
// to the heuristic parser.
func (r *Resolver) Resolve(ctx context.Context, text string) command.Structured {
	cmd, by := r.resolve(ctx, text)
	r.metrics.ObserveResolution(string(by))
	return cmd
}

func (r *Resolver) resolve(ctx context.Context, text string) (command.Structured, command.ResolvedBy) {
	if r.LooksStructured(text) {
		return r.parser.ParseText(text), command.ResolvedHeuristic
	}

	heuristic := func(context.Context) command.Structured {
		return r.parser.ParseText(text).WithResolvedBy(command.ResolvedFallback)
	}
	if r.nlu == nil {
		return heuristic(ctx), command.ResolvedFallback
	}

	primary := func(ctx context.Context) (command.Structured, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.understand(callCtx, text)
	}
	cmd, err := failover.WithFallback(ctx, primary, heuristic, usable)
	if err != nil {
		r.logger.Info("nlu fallback",
			zap.String("text", text),
			zap.Error(err),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
		)
		return cmd, command.ResolvedFallback
	}
	return cmd, command.ResolvedNLU
}

type understood struct {
	cmd command.Structured
	err error
}

// understand runs the collaborator in its own goroutine so that a
// collaborator ignoring ctx still cannot block past the deadline.
func (r *Resolver) understand(ctx context.Context, text string) (command.Structured, error) {
	done := make(chan understood, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- understood{err: &failover.PanicError{Value: p}}
			}
		}()
		cmd, err := r.nlu.Understand(ctx, actor.Session(ctx), text, r.catalog())
		done <- understood{cmd: cmd, err: err}
	}()

	select {
	case u := <-done:
		if u.err != nil {
			return command.Structured{}, u.err
		}
		return Normalize(u.cmd, text)
	case <-ctx.Done():
		return command.Structured{}, ctx.Err()
	}
}

func usable(c command.Structured) bool {
	return c.Command != "" && !c.IsError()
}
