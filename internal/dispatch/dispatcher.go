package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/agent"
	"github.com/opentalon/commandcenter/internal/command"
	"github.com/opentalon/commandcenter/internal/metrics"
	"github.com/opentalon/commandcenter/internal/suggest"
)

// Dispatcher routes structured commands through a sealed Registry. It holds
// no mutable state and is safe for concurrent use.
type Dispatcher struct {
	reg     *Registry
	guard   *Guard
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Dispatcher)

func WithGuard(g *Guard) Option { return func(d *Dispatcher) { d.guard = g } }

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func NewDispatcher(reg *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:    reg,
		guard:  NewGuard(),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

// Dispatch executes cmd and never panics. Provider failures, timeouts and
// unknown names are reported in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Structured) Result {
	start := time.Now()
	res := d.dispatch(ctx, cmd)
	label := cmd.Command
	if res.Code == CodeUnknownCommand && !d.known(cmd.Command) {
		label = "unknown"
	}
	d.metrics.ObserveDispatch(label, string(res.Code), time.Since(start))
	d.logger.Debug("dispatch",
		zap.String("command", cmd.Command),
		zap.String("subcommand", cmd.Subcommand),
		zap.String("resolved_by", string(cmd.ResolvedBy)),
		zap.Bool("ok", res.OK),
		zap.String("code", string(res.Code)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func (d *Dispatcher) known(name string) bool {
	if _, ok := d.reg.Builtin(name); ok {
		return true
	}
	_, ok := d.reg.Provider(name)
	return ok
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd command.Structured) Result {
	if cmd.IsError() {
		return Failure(cmd, CodeParseError, cmd.Diagnostic())
	}
	if b, ok := d.reg.Builtin(cmd.Command); ok {
		return d.runBuiltin(ctx, b, cmd)
	}
	p, ok := d.reg.Provider(cmd.Command)
	if !ok {
		res := Failure(cmd, CodeUnknownCommand, fmt.Sprintf("Unknown command: '%s'", cmd.Command))
		res.Suggestions = suggest.Suggest(cmd.Command, d.reg.Names())
		if len(res.Suggestions) > 0 {
			res.Message += ". Did you mean: " + strings.Join(res.Suggestions, ", ") + "?"
		}
		return res
	}
	if !cmd.HasSubcommand() {
		return Success(cmd, agent.FormatCatalog(p))
	}

	cat, _ := d.reg.Catalog(cmd.Command)
	if !cat.Has(cmd.Subcommand) {
		res := Failure(cmd, CodeUnknownCommand,
			fmt.Sprintf("Unknown action '%s' for %s", cmd.Subcommand, cmd.Command))
		res.Suggestions = suggest.Suggest(cmd.Subcommand, cat.Names())
		if len(res.Suggestions) > 0 {
			res.Message += ". Did you mean: " + strings.Join(res.Suggestions, ", ") + "?"
		}
		return res
	}

	out, err := d.guard.Execute(ctx, p, cmd.Subcommand, cmd.ExecArgs())
	if err != nil {
		d.logger.Warn("provider failed",
			zap.String("provider", cmd.Command),
			zap.String("action", cmd.Subcommand),
			zap.Error(err),
		)
		return Failure(cmd, CodeProviderError, providerMessage(cmd.Command, cmd.Subcommand, err))
	}
	return Success(cmd, out)
}

func (d *Dispatcher) runBuiltin(ctx context.Context, b Builtin, cmd command.Structured) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("built-in panicked", zap.String("command", b.Name), zap.Any("panic", r))
			res = Failure(cmd, CodeProviderError, fmt.Sprintf("Error executing %s: %v", b.Name, r))
		}
	}()
	res = b.Handler(ctx, cmd)
	res.Command = cmd
	return res
}

// Invoke runs one provider action under the guard. Unknown providers and
// actions are errors.
func (d *Dispatcher) Invoke(ctx context.Context, provider, action string, args []string) (string, error) {
	p, ok := d.reg.Provider(provider)
	if !ok {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	if !d.reg.HasAction(provider, action) {
		return "", fmt.Errorf("provider %q has no action %q", provider, action)
	}
	return d.guard.Execute(ctx, p, action, args)
}

func providerMessage(provider, action string, err error) string {
	var se *agent.StructuredError
	if errors.As(err, &se) {
		return se.Message
	}
	return fmt.Sprintf("Error executing %s %s: %v", provider, action, err)
}
