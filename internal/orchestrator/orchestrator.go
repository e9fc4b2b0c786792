// Package orchestrator runs named multi-step workflows across providers,
// threading each step's output into later steps and persisting the final
// context once.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/metrics"
	"github.com/opentalon/commandcenter/internal/state"
)

// DefaultCategory is used for persisted results when none is configured.
const DefaultCategory = "workflow"

// Invoker runs one provider action.
type Invoker interface {
	Invoke(ctx context.Context, provider, action string, args []string) (string, error)
}

// ActionChecker validates step targets at registration.
type ActionChecker interface {
	HasAction(provider, action string) bool
}

// Orchestrator is safe for concurrent use. Every run gets its own Context.
type Orchestrator struct {
	mu      sync.RWMutex
	defs    map[string]Definition
	invoker Invoker
	checker ActionChecker
	store   state.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	newID   func() string
	now     func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// New returns an orchestrator. store may be nil, in which case nothing is
// persisted.
func New(invoker Invoker, checker ActionChecker, store state.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		defs:    make(map[string]Definition),
		invoker: invoker,
		checker: checker,
		store:   store,
		logger:  zap.NewNop(),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register validates def and adds it. Malformed definitions are rejected
// here so that they never reach Run.
func (o *Orchestrator) Register(def Definition) error {
	if err := o.validate(&def); err != nil {
		return fmt.Errorf("workflow %q: %w", def.Name, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.defs[def.Name]; exists {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	o.defs[def.Name] = def
	return nil
}

func (o *Orchestrator) validate(def *Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("name is required")
	}
	if len(def.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	seen := make(map[string]bool, len(def.Steps))
	steps := make([]Step, len(def.Steps))
	for i, s := range def.Steps {
		if s.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("step %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		switch s.Policy {
		case "":
			s.Policy = PolicyHard
		case PolicyHard, PolicySoft:
		default:
			return fmt.Errorf("step %q: unknown policy %q", s.Name, s.Policy)
		}
		if s.Provider == "" || s.Action == "" {
			return fmt.Errorf("step %q: provider and action are required", s.Name)
		}
		if o.checker != nil && !o.checker.HasAction(s.Provider, s.Action) {
			return fmt.Errorf("step %q: provider %q has no action %q", s.Name, s.Provider, s.Action)
		}
		steps[i] = s
	}
	def.Steps = steps
	def.Requires = append([]string(nil), def.Requires...)
	def.Persist.Fields = append([]string(nil), def.Persist.Fields...)
	return nil
}

// Definition returns a registered workflow.
func (o *Orchestrator) Definition(name string) (Definition, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.defs[name]
	return d, ok
}

// List returns the registered workflows sorted by name.
func (o *Orchestrator) List() []Definition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Definition, 0, len(o.defs))
	for _, d := range o.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run executes the named workflow with payload as the initial context.
// Steps run strictly in order. Nothing is written to the store unless the
// run reaches the end without a hard failure or cancellation.
func (o *Orchestrator) Run(ctx context.Context, name string, payload map[string]any) *Result {
	res := &Result{
		RunID:     o.newID(),
		Workflow:  name,
		Status:    StatusPending,
		Context:   Context{},
		StartedAt: o.now(),
	}
	log := o.logger.With(zap.String("workflow", name), zap.String("run_id", res.RunID))
	defer func() {
		res.FinishedAt = o.now()
		o.metrics.ObserveWorkflow(name, string(res.Status))
		log.Info("workflow finished",
			zap.String("status", string(res.Status)),
			zap.Strings("failed_steps", res.FailedSteps),
			zap.String("error", res.Error),
		)
	}()

	def, ok := o.Definition(name)
	if !ok {
		return o.fail(res, fmt.Sprintf("no such workflow: %s", name))
	}
	for k, v := range payload {
		res.Context[k] = v
	}
	for _, k := range def.Requires {
		if res.Context.String(k) == "" {
			return o.fail(res, fmt.Sprintf("missing required field %q", k))
		}
	}

	res.Status = StatusRunning
	log.Debug("workflow started", zap.Int("steps", len(def.Steps)))

	for _, step := range def.Steps {
		if err := ctx.Err(); err != nil {
			return o.cancel(res, err)
		}
		rec, err := o.runStep(ctx, def.Name, step, res.Context)
		res.Steps = append(res.Steps, rec)
		if err == nil {
			continue
		}

		res.FailedSteps = append(res.FailedSteps, step.Name)
		if ctx.Err() != nil {
			return o.cancel(res, ctx.Err())
		}
		log.Warn("step failed",
			zap.String("step", step.Name),
			zap.String("policy", string(step.Policy)),
			zap.Error(err),
		)
		if step.Policy != PolicySoft {
			return o.fail(res, fmt.Sprintf("step %q failed: %v", step.Name, err))
		}
	}

	if err := ctx.Err(); err != nil {
		return o.cancel(res, err)
	}
	if err := o.persist(ctx, def, res); err != nil {
		return o.fail(res, fmt.Sprintf("persist: %v", err))
	}

	if len(res.FailedSteps) > 0 {
		res.Status = StatusPartiallyFailed
	} else {
		res.Status = StatusCompleted
	}
	return res
}

// runStep binds the step's output, or a StepFailure, into c.
func (o *Orchestrator) runStep(ctx context.Context, workflow string, step Step, c Context) (rec StepRecord, err error) {
	rec = StepRecord{Name: step.Name, Provider: step.Provider, Action: step.Action}
	start := o.now()
	defer func() {
		rec.Duration = o.now().Sub(start)
		rec.OK = err == nil
		if err != nil {
			rec.Error = err.Error()
			c[step.Name] = StepFailure{Error: err.Error()}
		}
		o.metrics.ObserveStep(workflow, step.Name, err == nil, rec.Duration)
	}()

	var args []string
	if step.Input != nil {
		args, err = mapInput(step.Input, c.clone())
		if err != nil {
			return rec, fmt.Errorf("input: %w", err)
		}
	}
	rec.Args = args

	out, err := o.invoker.Invoke(ctx, step.Provider, step.Action, args)
	if err != nil {
		return rec, err
	}
	c[step.Name] = out
	return rec, nil
}

func mapInput(fn InputMapping, c Context) (args []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("input mapping panicked: %v", r)
		}
	}()
	return fn(c)
}

func (o *Orchestrator) persist(ctx context.Context, def Definition, res *Result) error {
	if o.store == nil || def.Persist.Skip {
		return nil
	}
	key := o.persistKey(def, res)
	value, err := json.Marshal(selectFields(res.Context, def.Persist.Fields))
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	category := def.Persist.Category
	if category == "" {
		category = DefaultCategory
	}
	if err := o.store.Put(ctx, key, string(value), category); err != nil {
		return err
	}
	res.PersistedKey = key
	return nil
}

func (o *Orchestrator) persistKey(def Definition, res *Result) string {
	prefix := def.Persist.KeyPrefix
	if prefix == "" {
		prefix = def.Name
	}
	if f := def.Persist.KeyField; f != "" {
		if frag := NormalizeKey(res.Context.String(f)); strings.Trim(frag, "_") != "" {
			return prefix + "_" + frag
		}
	}
	return prefix + "_" + res.RunID
}

func selectFields(c Context, fields []string) Context {
	if len(fields) == 0 {
		return c
	}
	out := make(Context, len(fields))
	for _, f := range fields {
		if v, ok := c[f]; ok {
			out[f] = v
		}
	}
	return out
}

func (o *Orchestrator) fail(res *Result, msg string) *Result {
	res.Status = StatusFailed
	res.Error = msg
	return res
}

func (o *Orchestrator) cancel(res *Result, err error) *Result {
	res.Cancelled = true
	return o.fail(res, fmt.Sprintf("cancelled: %v", err))
}
