// Package commander is the surface front-ends talk to: it resolves text,
// dispatches it, runs workflows and keeps the task history.
package commander

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/command"
	"github.com/opentalon/commandcenter/internal/dispatch"
	"github.com/opentalon/commandcenter/internal/history"
	"github.com/opentalon/commandcenter/internal/metrics"
	"github.com/opentalon/commandcenter/internal/nlu"
	"github.com/opentalon/commandcenter/internal/orchestrator"
	"github.com/opentalon/commandcenter/internal/suggest"
)

// DefaultHistoryLimit is the number of entries "history" shows by default.
const DefaultHistoryLimit = 10

// ErrNotSealed is returned when the commander is used before Seal.
var ErrNotSealed = errors.New("commander is not sealed")

// Resolver turns text into a structured command.
type Resolver interface {
	Resolve(ctx context.Context, text string) command.Structured
}

type Commander struct {
	dispatcher *dispatch.Dispatcher
	reg        *dispatch.Registry
	workflows  *orchestrator.Orchestrator
	history    history.Log
	resolver   Resolver

	understander  nlu.Understander
	nluTimeout    time.Duration
	agentCommands []string
	logger        *zap.Logger
	metrics       *metrics.Metrics
	started       time.Time
}

type Option func(*Commander)

// WithUnderstander enables natural-language resolution.
func WithUnderstander(u nlu.Understander) Option { return func(c *Commander) { c.understander = u } }

func WithNLUTimeout(d time.Duration) Option { return func(c *Commander) { c.nluTimeout = d } }

// WithAgentCommands adds names that take a subcommand even though no
// provider by that name is registered.
func WithAgentCommands(names ...string) Option {
	return func(c *Commander) { c.agentCommands = append(c.agentCommands, names...) }
}

func WithLogger(l *zap.Logger) Option { return func(c *Commander) { c.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Commander) { c.metrics = m } }

// New registers the help, about, history and workflow built-ins on the
// dispatcher's registry. More providers may be registered until Seal.
// workflows may be nil; log defaults to an in-memory ring.
func New(d *dispatch.Dispatcher, workflows *orchestrator.Orchestrator, log history.Log, opts ...Option) (*Commander, error) {
	if log == nil {
		log = history.NewRing(history.DefaultCapacity)
	}
	c := &Commander{
		dispatcher: d,
		reg:        d.Registry(),
		workflows:  workflows,
		history:    log,
		nluTimeout: nlu.DefaultTimeout,
		logger:     zap.NewNop(),
		started:    time.Now(),
	}
	for _, o := range opts {
		o(c)
	}

	builtins := []dispatch.Builtin{
		dispatch.HelpBuiltin(c.reg),
		c.aboutBuiltin(),
		c.historyBuiltin(),
	}
	if workflows != nil {
		builtins = append(builtins, c.workflowBuiltin())
	}
	for _, b := range builtins {
		if err := c.reg.RegisterBuiltin(b); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Seal freezes the registry and builds the resolver over everything
// registered so far.
func (c *Commander) Seal() {
	c.reg.Seal()
	parser := command.NewParser(append(c.reg.AgentCommands(), c.agentCommands...)...)
	opts := []nlu.Option{
		nlu.WithCatalog(c.reg.Describe),
		nlu.WithTimeout(c.nluTimeout),
		nlu.WithLogger(c.logger),
		nlu.WithMetrics(c.metrics),
	}
	if c.understander != nil {
		opts = append(opts, nlu.WithUnderstander(c.understander))
	}
	c.resolver = nlu.NewResolver(parser, opts...)
}

// ResolveAndDispatch resolves text, dispatches it and records the outcome.
func (c *Commander) ResolveAndDispatch(ctx context.Context, text string) dispatch.Result {
	if c.resolver == nil {
		return dispatch.Failure(command.NewError(text, ErrNotSealed.Error()), dispatch.CodeParseError, ErrNotSealed.Error())
	}
	cmd := c.resolver.Resolve(ctx, text)
	res := c.dispatcher.Dispatch(ctx, cmd)
	c.record(ctx, history.NewEntry(text, res.Message, res.OK, string(res.Code)))
	return res
}

// RunWorkflow runs a registered workflow and records the outcome.
func (c *Commander) RunWorkflow(ctx context.Context, name string, payload map[string]any) *orchestrator.Result {
	if c.workflows == nil {
		now := time.Now().UTC()
		return &orchestrator.Result{
			Workflow:   name,
			Status:     orchestrator.StatusFailed,
			Error:      "workflows are not configured",
			StartedAt:  now,
			FinishedAt: now,
		}
	}
	res := c.workflows.Run(ctx, name, payload)
	code := ""
	if !res.OK() {
		code = string(dispatch.CodeWorkflowError)
	}
	c.record(ctx, history.NewEntry("workflow run "+name, res.Summary(), res.OK(), code))
	return res
}

// Workflows lists registered workflows by name.
func (c *Commander) Workflows() []orchestrator.Definition {
	if c.workflows == nil {
		return nil
	}
	return c.workflows.List()
}

// History returns the most recent entries, newest first.
func (c *Commander) History(ctx context.Context, limit int) ([]history.Entry, error) {
	return c.history.Recent(ctx, limit)
}

// Suggestions completes a partial input. A bare word completes command
// names; "<provider> <partial>" completes that provider's actions.
func (c *Commander) Suggestions(query string) []string {
	q := strings.ToLower(strings.TrimLeft(query, " \t"))
	head, rest, hasRest := strings.Cut(q, " ")
	if !hasRest {
		return suggest.Complete(q, c.reg.Names())
	}
	rest = strings.TrimSpace(rest)
	if cat, ok := c.reg.Catalog(head); ok {
		return prefixed(head, suggest.Complete(rest, cat.Names()))
	}
	if head == "workflow" && c.workflows != nil {
		sub, partial, _ := strings.Cut(rest, " ")
		switch sub {
		case "run", "show":
			return prefixed(head+" "+sub, suggest.Complete(strings.TrimSpace(partial), c.workflowNames()))
		}
		return prefixed(head, suggest.Complete(rest, workflowSubcommands))
	}
	return nil
}

func prefixed(prefix string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + " " + n
	}
	return out
}

func (c *Commander) workflowNames() []string {
	defs := c.workflows.List()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	sort.Strings(names)
	return names
}

func (c *Commander) record(ctx context.Context, e history.Entry) {
	// History must not fail the command it records.
	if err := c.history.Append(context.WithoutCancel(ctx), e); err != nil {
		c.metrics.IncHistoryError()
		c.logger.Warn("history append failed", zap.String("command", e.CommandText), zap.Error(err))
	}
}
