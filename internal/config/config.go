// Package config loads the YAML configuration file, expands ${VAR}
// references and applies COMMANDCENTER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COMMANDCENTER_"

type Config struct {
	Log       LogConfig        `yaml:"log"`
	NLU       NLUConfig        `yaml:"nlu"`
	Dispatch  DispatchConfig   `yaml:"dispatch"`
	Store     StoreConfig      `yaml:"store"`
	History   HistoryConfig    `yaml:"history"`
	Providers ProvidersConfig  `yaml:"providers"`
	Workflows []WorkflowConfig `yaml:"workflows"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Server    ServerConfig     `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"` // json or console
	File   string `yaml:"file" env:"LOG_FILE"`
	// Rotation applies when File is set.
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

type NLUConfig struct {
	Enabled bool          `yaml:"enabled" env:"NLU_ENABLED"`
	Timeout time.Duration `yaml:"timeout" env:"NLU_TIMEOUT"`
	// Targets are tried in order until one answers.
	Targets []NLUTarget `yaml:"targets"`
	// MaxHistory caps the messages kept per session.
	MaxHistory  int `yaml:"max_history"`
	MaxSessions int `yaml:"max_sessions"`
}

type NLUTarget struct {
	API     string `yaml:"api"` // openai or anthropic
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type DispatchConfig struct {
	Timeout        time.Duration `yaml:"timeout" env:"DISPATCH_TIMEOUT"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	// AgentCommands extends the built-in set of commands that take a subcommand.
	AgentCommands []string `yaml:"agent_commands"`
}

const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
)

type StoreConfig struct {
	Backend string      `yaml:"backend" env:"STORE_BACKEND"` // memory, sql or redis
	DataDir string      `yaml:"data_dir" env:"DATA_DIR"`
	SQL     SQLConfig   `yaml:"sql"`
	Redis   RedisConfig `yaml:"redis"`
}

type SQLConfig struct {
	Driver string `yaml:"driver" env:"SQL_DRIVER"` // sqlite or postgres
	DSN    string `yaml:"dsn" env:"SQL_DSN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

type ProvidersConfig struct {
	// Builtin enables the in-process providers by name (e.g. memory).
	Builtin  []string       `yaml:"builtin"`
	Requests RequestsConfig `yaml:"requests"`
	Plugins  []PluginConfig `yaml:"plugins"`
}

type RequestsConfig struct {
	Dir string `yaml:"dir"`
}

type PluginConfig struct {
	Name    string   `yaml:"name"`
	Path    string   `yaml:"path"`
	Args    []string `yaml:"args"`
	Address string   `yaml:"address"`
	Enabled *bool    `yaml:"enabled"`
}

// IsEnabled defaults to true when enabled is omitted.
func (p PluginConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type WorkflowConfig struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Requires    []string      `yaml:"requires"`
	Steps       []StepConfig  `yaml:"steps"`
	Persist     PersistConfig `yaml:"persist"`
}

// StepConfig sets at most one of Args, Script or ScriptFile.
type StepConfig struct {
	Name       string   `yaml:"name"`
	Provider   string   `yaml:"provider"`
	Action     string   `yaml:"action"`
	Args       []string `yaml:"args"`
	Script     string   `yaml:"script"`
	ScriptFile string   `yaml:"script_file"`
	Policy     string   `yaml:"policy"` // hard (default) or soft
}

type PersistConfig struct {
	Skip      bool     `yaml:"skip"`
	KeyPrefix string   `yaml:"key_prefix"`
	KeyField  string   `yaml:"key_field"`
	Fields    []string `yaml:"fields"`
	Category  string   `yaml:"category"`
}

type SchedulerConfig struct {
	Enabled  bool        `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	Timezone string      `yaml:"timezone"`
	Jobs     []JobConfig `yaml:"jobs"`
}

// JobConfig runs either Workflow (with Payload) or Command on Schedule.
type JobConfig struct {
	Name     string            `yaml:"name"`
	Schedule string            `yaml:"schedule"`
	Workflow string            `yaml:"workflow"`
	Payload  map[string]string `yaml:"payload"`
	Command  string            `yaml:"command"`
	Paused   bool              `yaml:"paused"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" env:"LISTEN"`
	// Token, when set, is required as a bearer token on every request
	// except /healthz and /metrics.
	Token           string        `yaml:"token" env:"SERVER_TOKEN"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins lists extra browser origins (host patterns such as
	// "localhost:3000" or "*.example.com") that may open /ws. Same-origin
	// pages and clients sending no Origin are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

// expandEnv replaces ${VAR} with its value; unset variables are left as is.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for i, t := range cfg.NLU.Targets {
		t.BaseURL = expandEnv(t.BaseURL)
		t.APIKey = expandEnv(t.APIKey)
		t.Model = expandEnv(t.Model)
		cfg.NLU.Targets[i] = t
	}
	cfg.Log.File = expandEnv(cfg.Log.File)
	cfg.Store.DataDir = expandEnv(cfg.Store.DataDir)
	cfg.Store.SQL.DSN = expandEnv(cfg.Store.SQL.DSN)
	cfg.Store.Redis.Addr = expandEnv(cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = expandEnv(cfg.Store.Redis.Password)
	cfg.Providers.Requests.Dir = expandEnv(cfg.Providers.Requests.Dir)
	for i, p := range cfg.Providers.Plugins {
		p.Path = expandEnv(p.Path)
		p.Address = expandEnv(p.Address)
		cfg.Providers.Plugins[i] = p
	}
	cfg.Server.Listen = expandEnv(cfg.Server.Listen)
	cfg.Server.Token = expandEnv(cfg.Server.Token)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.NLU.Timeout == 0 {
		c.NLU.Timeout = 5 * time.Second
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = 30 * time.Second
	}
	if c.Dispatch.MaxOutputBytes == 0 {
		c.Dispatch.MaxOutputBytes = 64 * 1024
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = defaultDataDir()
	}
	if c.Store.SQL.Driver == "" {
		c.Store.SQL.Driver = "sqlite"
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "commandcenter"
	}
	if c.History.Capacity == 0 {
		c.History.Capacity = 500
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Providers.Builtin == nil {
		c.Providers.Builtin = []string{"memory"}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".commandcenter"
	}
	return filepath.Join(home, ".commandcenter")
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes data, expands ${VAR} references, applies environment
// overrides and defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, a ...any) { errs = append(errs, fmt.Errorf(format, a...)) }

	switch c.Log.Format {
	case "json", "console":
	default:
		add("log.format: unknown format %q", c.Log.Format)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQL, BackendRedis:
	default:
		add("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendSQL {
		switch c.Store.SQL.Driver {
		case "sqlite":
		case "postgres":
			if c.Store.SQL.DSN == "" {
				add("store.sql.dsn: required for postgres")
			}
		default:
			add("store.sql.driver: unknown driver %q", c.Store.SQL.Driver)
		}
	}
	if c.Store.Backend == BackendRedis && c.Store.Redis.Addr == "" {
		add("store.redis.addr: required for the redis backend")
	}
	if c.NLU.Enabled && len(c.NLU.Targets) == 0 {
		add("nlu.targets: at least one target is required when nlu is enabled")
	}
	for i, t := range c.NLU.Targets {
		switch t.API {
		case "openai", "anthropic":
		default:
			add("nlu.targets[%d].api: unknown api %q", i, t.API)
		}
	}
	for i, p := range c.Providers.Plugins {
		if p.Name == "" {
			add("providers.plugins[%d].name: required", i)
		}
		if (p.Path == "") == (p.Address == "") {
			add("providers.plugins[%d]: exactly one of path or address is required", i)
		}
	}

	workflows := make(map[string]bool, len(c.Workflows))
	for i, w := range c.Workflows {
		if w.Name == "" {
			add("workflows[%d].name: required", i)
		} else if workflows[w.Name] {
			add("workflows[%d]: duplicate workflow name %q", i, w.Name)
		}
		workflows[w.Name] = true
		for j, s := range w.Steps {
			n := 0
			for _, set := range []bool{len(s.Args) > 0, s.Script != "", s.ScriptFile != ""} {
				if set {
					n++
				}
			}
			if n > 1 {
				add("workflows[%d].steps[%d]: set only one of args, script or script_file", i, j)
			}
			switch s.Policy {
			case "", "hard", "soft":
			default:
				add("workflows[%d].steps[%d].policy: unknown policy %q", i, j, s.Policy)
			}
		}
	}

	jobs := make(map[string]bool, len(c.Scheduler.Jobs))
	for i, j := range c.Scheduler.Jobs {
		if j.Name == "" || jobs[j.Name] {
			add("scheduler.jobs[%d]: missing or duplicate name %q", i, j.Name)
		}
		jobs[j.Name] = true
		if (j.Workflow == "") == (j.Command == "") {
			add("scheduler.jobs[%d]: exactly one of workflow or command is required", i)
		}
		if j.Workflow != "" && !workflows[j.Workflow] {
			add("scheduler.jobs[%d]: unknown workflow %q", i, j.Workflow)
		}
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}
	return errors.Join(errs...)
}
