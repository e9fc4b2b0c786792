// Package app assembles a command center from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/agent"
	"github.com/opentalon/commandcenter/internal/agent/memory"
	"github.com/opentalon/commandcenter/internal/commander"
	"github.com/opentalon/commandcenter/internal/config"
	"github.com/opentalon/commandcenter/internal/dispatch"
	"github.com/opentalon/commandcenter/internal/history"
	"github.com/opentalon/commandcenter/internal/llm"
	"github.com/opentalon/commandcenter/internal/metrics"
	"github.com/opentalon/commandcenter/internal/nlu"
	"github.com/opentalon/commandcenter/internal/orchestrator"
	"github.com/opentalon/commandcenter/internal/plugin"
	"github.com/opentalon/commandcenter/internal/requestpkg"
	"github.com/opentalon/commandcenter/internal/scheduler"
	"github.com/opentalon/commandcenter/internal/server"
	"github.com/opentalon/commandcenter/internal/state"
	"github.com/opentalon/commandcenter/internal/state/redisstore"
	"github.com/opentalon/commandcenter/internal/state/store"
)

// App owns every long-lived component. Close releases them in reverse
// order of construction.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Commander *commander.Commander
	Scheduler *scheduler.Scheduler
	Store     state.KnowledgeStore

	httpClient *http.Client
	closers    []func() error
}

type Option func(*buildOptions)

type buildOptions struct {
	baseDir    string
	providers  []agent.Provider
	httpClient *http.Client
}

// WithBaseDir resolves relative paths in the configuration (script files,
// the request package directory) against dir.
func WithBaseDir(dir string) Option { return func(o *buildOptions) { o.baseDir = dir } }

// WithProviders registers extra in-process providers.
func WithProviders(ps ...agent.Provider) Option {
	return func(o *buildOptions) { o.providers = append(o.providers, ps...) }
}

func WithHTTPClient(c *http.Client) Option { return func(o *buildOptions) { o.httpClient = c } }

// Build wires the application. logger must not be nil. On error everything
// opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	bo := buildOptions{httpClient: &http.Client{Timeout: 60 * time.Second}}
	for _, o := range opts {
		o(&bo)
	}
	a := &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics.New(),
		httpClient: bo.httpClient,
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	records, hist, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = records

	reg := dispatch.NewRegistry()
	providers, err := a.providers(ctx, records, bo)
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	guard := dispatch.NewGuard()
	guard.Timeout = cfg.Dispatch.Timeout
	guard.MaxOutputBytes = cfg.Dispatch.MaxOutputBytes
	d := dispatch.NewDispatcher(reg,
		dispatch.WithGuard(guard),
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithMetrics(a.Metrics),
	)

	orch := orchestrator.New(d, reg, records,
		orchestrator.WithLogger(logger.Named("workflow")),
		orchestrator.WithMetrics(a.Metrics),
	)

	cmdOpts := []commander.Option{
		commander.WithLogger(logger.Named("commander")),
		commander.WithMetrics(a.Metrics),
		commander.WithNLUTimeout(cfg.NLU.Timeout),
		commander.WithAgentCommands(cfg.Dispatch.AgentCommands...),
	}
	if cfg.NLU.Enabled {
		u, err := a.understander()
		if err != nil {
			return nil, err
		}
		cmdOpts = append(cmdOpts, commander.WithUnderstander(u))
	}
	cmdr, err := commander.New(d, orch, hist, cmdOpts...)
	if err != nil {
		return nil, err
	}
	a.Commander = cmdr

	if cfg.Scheduler.Enabled {
		a.Scheduler, err = a.newScheduler(cmdr)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(scheduler.NewTool(a.Scheduler)); err != nil {
			return nil, err
		}
	}

	// Workflows are checked against every provider, so they go in last.
	if err := orch.RegisterConfig(cfg.Workflows, bo.baseDir); err != nil {
		return nil, err
	}
	cmdr.Seal()

	logger.Info("command center ready",
		zap.Strings("providers", reg.ProviderNames()),
		zap.Int("workflows", len(orch.List())),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("nlu", cfg.NLU.Enabled),
	)
	return a, nil
}

func (a *App) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close stops the scheduler and providers and flushes the store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Start begins running scheduled jobs. It is a no-op when the scheduler is
// disabled.
func (a *App) Start() error {
	if a.Scheduler == nil {
		return nil
	}
	jobs := make([]scheduler.Job, 0, len(a.Config.Scheduler.Jobs))
	for _, j := range a.Config.Scheduler.Jobs {
		jobs = append(jobs, scheduler.Job{
			Name:     j.Name,
			Schedule: j.Schedule,
			Workflow: j.Workflow,
			Payload:  j.Payload,
			Command:  j.Command,
			Paused:   j.Paused,
		})
	}
	return a.Scheduler.Start(jobs)
}

// Serve starts the scheduler and the HTTP server and blocks until ctx is
// cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	srv := server.New(a.Commander, a.Config.Server,
		server.WithLogger(a.Logger.Named("server")),
		server.WithMetrics(a.Metrics),
	)
	return srv.ListenAndServe(ctx)
}

func (a *App) openStore(ctx context.Context) (state.KnowledgeStore, history.Log, error) {
	cfg := a.Config.Store
	capacity := a.Config.History.Capacity
	switch cfg.Backend {
	case config.BackendSQL:
		db, err := store.Open(store.Config{Driver: cfg.SQL.Driver, DataDir: cfg.DataDir, DSN: cfg.SQL.DSN})
		if err != nil {
			return nil, nil, err
		}
		a.onClose(db.Close)
		return store.NewRecordStore(db), store.NewHistoryStore(db, capacity), nil
	case config.BackendRedis:
		rdb, err := redisstore.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		a.onClose(rdb.Close)
		rs := redisstore.New(rdb, redisstore.Options{Prefix: cfg.Redis.Prefix, HistoryCapacity: capacity})
		return rs, rs, nil
	case config.BackendMemory, "":
		ms := state.NewMemoryStore(cfg.DataDir)
		if err := ms.Load(); err != nil {
			return nil, nil, err
		}
		a.onClose(ms.Save)
		return ms, history.NewRing(capacity), nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func (a *App) providers(ctx context.Context, records state.KnowledgeStore, bo buildOptions) ([]agent.Provider, error) {
	cfg := a.Config.Providers
	var out []agent.Provider
	for _, name := range cfg.Builtin {
		switch name {
		case memory.Name:
			out = append(out, memory.New(records))
		default:
			return nil, fmt.Errorf("providers.builtin: unknown provider %q", name)
		}
	}

	if dir := cfg.Requests.Dir; dir != "" {
		if !filepath.IsAbs(dir) && bo.baseDir != "" {
			dir = filepath.Join(bo.baseDir, dir)
		}
		sets, err := requestpkg.LoadDir(dir)
		if err != nil {
			return nil, err
		}
		ps, err := requestpkg.Providers(sets, a.httpClient)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}

	if len(cfg.Plugins) > 0 {
		mgr := plugin.NewManager(a.Logger.Named("plugin"))
		a.onClose(func() error { mgr.StopAll(); return nil })
		entries := make([]plugin.Entry, 0, len(cfg.Plugins))
		for _, p := range cfg.Plugins {
			entries = append(entries, plugin.Entry{
				Name:    p.Name,
				Path:    p.Path,
				Args:    p.Args,
				Address: p.Address,
				Enabled: p.IsEnabled(),
			})
		}
		ps, err := mgr.LoadAll(ctx, entries)
		if err != nil {
			// A provider that is down must not take the others with it.
			a.Logger.Warn("some providers failed to load", zap.Error(err))
		}
		out = append(out, ps...)
	}

	return append(out, bo.providers...), nil
}

// apiNames maps configuration names to wire formats.
var apiNames = map[string]string{
	"openai":    llm.APIOpenAI,
	"anthropic": llm.APIAnthropic,
}

func (a *App) understander() (*nlu.LLMUnderstander, error) {
	cfg := a.Config.NLU
	targets := make([]nlu.Target, 0, len(cfg.Targets))
	for i, t := range cfg.Targets {
		client, err := llm.FromConfig(llm.Config{API: apiNames[t.API], BaseURL: t.BaseURL, APIKey: t.APIKey}, a.httpClient)
		if err != nil {
			return nil, fmt.Errorf("nlu.targets[%d]: %w", i, err)
		}
		targets = append(targets, nlu.Target{Client: client, Model: t.Model})
	}
	sessions := state.NewSessionStore(filepath.Join(a.Config.Store.DataDir, "sessions"), cfg.MaxHistory, cfg.MaxSessions)
	return nlu.NewLLMUnderstander(sessions, targets...).WithLogger(a.Logger.Named("nlu")), nil
}

func (a *App) newScheduler(runner *commander.Commander) (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{scheduler.WithDataDir(a.Config.Store.DataDir)}
	if tz := a.Config.Scheduler.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
		opts = append(opts, scheduler.WithLocation(loc))
	}
	s := scheduler.New(runner, runner, a.Logger.Named("scheduler"), opts...)
	a.onClose(func() error { s.Stop(); return nil })
	return s, nil
}
