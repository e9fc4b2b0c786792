// Package scheduler runs workflows and commands on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/opentalon/commandcenter/internal/dispatch"
	"github.com/opentalon/commandcenter/internal/orchestrator"
)

// WorkflowRunner runs a named workflow.
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, name string, payload map[string]any) *orchestrator.Result
}

// CommandRunner resolves and dispatches one line of input.
type CommandRunner interface {
	ResolveAndDispatch(ctx context.Context, text string) dispatch.Result
}

const (
	SourceConfig  = "config"
	SourceDynamic = "dynamic"
)

// Job runs either Workflow (with Payload) or Command on Schedule. Schedule
// is a standard five-field cron spec or a descriptor such as @hourly or
// "@every 30m".
type Job struct {
	Name     string            `yaml:"name" json:"name"`
	Schedule string            `yaml:"schedule" json:"schedule"`
	Workflow string            `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	Payload  map[string]string `yaml:"payload,omitempty" json:"payload,omitempty"`
	Command  string            `yaml:"command,omitempty" json:"command,omitempty"`
	Paused   bool              `yaml:"paused,omitempty" json:"paused,omitempty"`
	Source   string            `yaml:"source,omitempty" json:"source,omitempty"`
}

// Target describes what the job runs.
func (j Job) Target() string {
	if j.Workflow != "" {
		return "workflow " + j.Workflow
	}
	return "command " + j.Command
}

// Status is a job plus its run state.
type Status struct {
	Job
	Next        time.Time `json:"next,omitempty"`
	LastRun     time.Time `json:"last_run,omitempty"`
	LastOK      bool      `json:"last_ok"`
	LastOutcome string    `json:"last_outcome,omitempty"`
}

var (
	ErrConfigProtected = errors.New("config-defined jobs cannot be modified or removed")
	ErrNotFound        = errors.New("job not found")
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (j *Job) validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if _, err := parser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("invalid schedule for job %q: %w", j.Name, err)
	}
	if (j.Workflow == "") == (j.Command == "") {
		return fmt.Errorf("job %q: exactly one of workflow or command is required", j.Name)
	}
	return nil
}

type entry struct {
	status Status
	id     cron.EntryID
}

// Scheduler owns a cron runner. Dynamic jobs are persisted under dataDir.
type Scheduler struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	cron      *cron.Cron
	workflows WorkflowRunner
	commands  CommandRunner
	dataDir   string
	logger    *zap.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.cron = newCron(s.logger, loc) }
}

func WithDataDir(dir string) Option { return func(s *Scheduler) { s.dataDir = dir } }

func New(workflows WorkflowRunner, commands CommandRunner, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		jobs:      make(map[string]*entry),
		workflows: workflows,
		commands:  commands,
		logger:    logger.Named("scheduler"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.cron = newCron(s.logger, time.Local)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newCron(logger *zap.Logger, loc *time.Location) *cron.Cron {
	cl := cronLogger{logger.Sugar()}
	return cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Start registers static jobs and persisted dynamic jobs, then starts the
// cron runner. Invalid jobs are skipped and reported together.
func (s *Scheduler) Start(static []Job) error {
	var errs []error
	for _, j := range static {
		j.Source = SourceConfig
		if err := s.add(j); err != nil {
			errs = append(errs, err)
		}
	}
	dynamic, err := s.loadDynamic()
	if err != nil {
		errs = append(errs, err)
	}
	for _, j := range dynamic {
		j.Source = SourceDynamic
		if err := s.add(j); err != nil {
			errs = append(errs, err)
		}
	}
	for _, err := range errs {
		s.logger.Warn("skipping job", zap.Error(err))
	}
	s.cron.Start()
	return errors.Join(errs...)
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// AddJob creates a dynamic job and persists it.
func (s *Scheduler) AddJob(job Job) error {
	job.Source = SourceDynamic
	if err := s.add(job); err != nil {
		return err
	}
	return s.persistDynamic()
}

func (s *Scheduler) add(job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already exists", job.Name)
	}
	e := &entry{status: Status{Job: job}}
	s.jobs[job.Name] = e
	if !job.Paused {
		return s.scheduleLocked(e)
	}
	return nil
}

func (s *Scheduler) scheduleLocked(e *entry) error {
	name := e.status.Name
	id, err := s.cron.AddFunc(e.status.Schedule, func() {
		_, _ = s.run(s.ctx, name)
	})
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", name, err)
	}
	e.id = id
	return nil
}

func (s *Scheduler) lookup(name string) (*entry, error) {
	e, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// RemoveJob stops and removes a dynamic job.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	e, err := s.lookup(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if e.status.Source == SourceConfig {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	s.cron.Remove(e.id)
	delete(s.jobs, name)
	s.mu.Unlock()
	return s.persistDynamic()
}

// PauseJob unschedules a job without removing it.
func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	e, err := s.lookup(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if e.status.Paused {
		s.mu.Unlock()
		return fmt.Errorf("job %q is already paused", name)
	}
	s.cron.Remove(e.id)
	e.id = 0
	e.status.Paused = true
	s.mu.Unlock()
	return s.persistDynamic()
}

// ResumeJob schedules a paused job again.
func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	e, err := s.lookup(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !e.status.Paused {
		s.mu.Unlock()
		return fmt.Errorf("job %q is not paused", name)
	}
	e.status.Paused = false
	if err := s.scheduleLocked(e); err != nil {
		e.status.Paused = true
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.persistDynamic()
}

// RunNow runs a job immediately, whether or not it is paused.
func (s *Scheduler) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	_, err := s.lookup(name)
	s.mu.RUnlock()
	if err != nil {
		return "", err
	}
	return s.run(ctx, name)
}

// ListJobs returns every job sorted by name.
func (s *Scheduler) ListJobs() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, s.statusLocked(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) GetJob(name string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[name]
	if !ok {
		return Status{}, false
	}
	return s.statusLocked(e), true
}

func (s *Scheduler) statusLocked(e *entry) Status {
	st := e.status
	if e.id != 0 {
		st.Next = s.cron.Entry(e.id).Next
	}
	return st
}

func (s *Scheduler) run(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	e, err := s.lookup(name)
	var job Job
	if err == nil {
		job = e.status.Job
	}
	s.mu.RUnlock()
	if err != nil {
		return "", err
	}

	log := s.logger.With(zap.String("job", job.Name), zap.String("target", job.Target()))
	started := s.now()
	outcome, ok := s.execute(ctx, job)
	log.Info("job finished", zap.Bool("ok", ok), zap.Duration("duration", s.now().Sub(started)))

	s.mu.Lock()
	if cur, found := s.jobs[name]; found {
		cur.status.LastRun = started
		cur.status.LastOK = ok
		cur.status.LastOutcome = outcome
	}
	s.mu.Unlock()

	if !ok {
		return outcome, fmt.Errorf("job %q failed: %s", job.Name, outcome)
	}
	return outcome, nil
}

func (s *Scheduler) execute(ctx context.Context, job Job) (string, bool) {
	if job.Workflow != "" {
		if s.workflows == nil {
			return "workflows are not available", false
		}
		payload := make(map[string]any, len(job.Payload))
		for k, v := range job.Payload {
			payload[k] = v
		}
		res := s.workflows.RunWorkflow(ctx, job.Workflow, payload)
		return res.Summary(), res.OK()
	}
	if s.commands == nil {
		return "commands are not available", false
	}
	res := s.commands.ResolveAndDispatch(ctx, job.Command)
	return res.Message, res.OK
}

func (s *Scheduler) persistPath() string {
	return filepath.Join(s.dataDir, "scheduler", "jobs.yaml")
}

func (s *Scheduler) persistDynamic() error {
	if s.dataDir == "" {
		return nil
	}

	s.mu.RLock()
	var dynamic []Job
	for _, e := range s.jobs {
		if e.status.Source == SourceDynamic {
			dynamic = append(dynamic, e.status.Job)
		}
	}
	s.mu.RUnlock()
	sort.Slice(dynamic, func(i, j int) bool { return dynamic[i].Name < dynamic[j].Name })

	if err := os.MkdirAll(filepath.Dir(s.persistPath()), 0700); err != nil {
		return fmt.Errorf("creating scheduler dir: %w", err)
	}
	data, err := yaml.Marshal(dynamic)
	if err != nil {
		return fmt.Errorf("marshaling jobs: %w", err)
	}
	return os.WriteFile(s.persistPath(), data, 0600)
}

func (s *Scheduler) loadDynamic() ([]Job, error) {
	if s.dataDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.persistPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}
	var jobs []Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parsing jobs file: %w", err)
	}
	return jobs, nil
}
