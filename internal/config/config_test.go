package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const testYAML = `
log:
  level: debug
  format: console
nlu:
  enabled: true
  timeout: 3s
  targets:
    - api: anthropic
      api_key: "${CC_TEST_ANTHROPIC_KEY}"
      model: claude-haiku
    - api: openai
      base_url: "${CC_TEST_OPENAI_URL}"
      api_key: "${CC_TEST_UNSET_KEY}"
      model: gpt-4o-mini
dispatch:
  timeout: 10s
  agent_commands: [workflow]
store:
  backend: sql
  data_dir: /var/lib/commandcenter
  sql:
    driver: sqlite
history:
  capacity: 50
providers:
  builtin: [memory]
  requests:
    dir: ./requests
  plugins:
    - name: weather
      address: tcp://127.0.0.1:9001
    - name: local
      path: ./bin/local-provider
      enabled: false
workflows:
  - name: research_and_code
    requires: [topic]
    steps:
      - name: research
        provider: researcher
        action: research
        args: ["{{ctx.topic}}"]
      - name: code
        provider: coder
        action: generate
        script: |
          return { ctx.research }
        policy: soft
    persist:
      key_field: topic
      category: projects
scheduler:
  enabled: true
  jobs:
    - name: nightly
      schedule: "0 2 * * *"
      workflow: research_and_code
      payload:
        topic: backups
    - name: cleanup
      schedule: "@every 1h"
      command: memory list
server:
  listen: ":9090"
`

func TestParseConfig(t *testing.T) {
	t.Setenv("CC_TEST_ANTHROPIC_KEY", "sk-ant")
	t.Setenv("CC_TEST_OPENAI_URL", "https://llm.example.com/v1")

	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.NLU.Timeout != 3*time.Second || len(cfg.NLU.Targets) != 2 {
		t.Errorf("nlu = %+v", cfg.NLU)
	}
	if cfg.NLU.Targets[0].APIKey != "sk-ant" {
		t.Errorf("api key = %q", cfg.NLU.Targets[0].APIKey)
	}
	if cfg.NLU.Targets[1].BaseURL != "https://llm.example.com/v1" {
		t.Errorf("base url = %q", cfg.NLU.Targets[1].BaseURL)
	}
	if cfg.NLU.Targets[1].APIKey != "${CC_TEST_UNSET_KEY}" {
		t.Errorf("unset var should be preserved, got %q", cfg.NLU.Targets[1].APIKey)
	}
	if cfg.Dispatch.Timeout != 10*time.Second || cfg.Dispatch.MaxOutputBytes != 64*1024 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Store.Backend != BackendSQL || cfg.History.Capacity != 50 {
		t.Errorf("store = %+v history = %+v", cfg.Store, cfg.History)
	}
	if cfg.Providers.Plugins[0].IsEnabled() != true || cfg.Providers.Plugins[1].IsEnabled() != false {
		t.Error("plugin enabled defaults wrong")
	}

	wf := cfg.Workflows[0]
	if wf.Name != "research_and_code" || len(wf.Steps) != 2 {
		t.Fatalf("workflow = %+v", wf)
	}
	if diff := cmp.Diff([]string{"{{ctx.topic}}"}, wf.Steps[0].Args); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
	if !strings.Contains(wf.Steps[1].Script, "ctx.research") || wf.Steps[1].Policy != "soft" {
		t.Errorf("step 2 = %+v", wf.Steps[1])
	}
	if wf.Persist.KeyField != "topic" || wf.Persist.Category != "projects" {
		t.Errorf("persist = %+v", wf.Persist)
	}

	if len(cfg.Scheduler.Jobs) != 2 || cfg.Scheduler.Jobs[0].Payload["topic"] != "backups" {
		t.Errorf("jobs = %+v", cfg.Scheduler.Jobs)
	}
	if cfg.Server.Listen != ":9090" || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COMMANDCENTER_LOG_LEVEL", "warn")
	t.Setenv("COMMANDCENTER_STORE_BACKEND", "redis")
	t.Setenv("COMMANDCENTER_REDIS_ADDR", "localhost:6379")
	t.Setenv("COMMANDCENTER_NLU_TIMEOUT", "750ms")
	t.Setenv("COMMANDCENTER_LISTEN", "0.0.0.0:80")

	cfg, err := Parse([]byte("log:\n  level: debug\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Level = %q, want env override", cfg.Log.Level)
	}
	if cfg.Store.Backend != BackendRedis || cfg.Store.Redis.Addr != "localhost:6379" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.NLU.Timeout != 750*time.Millisecond {
		t.Errorf("NLU.Timeout = %v", cfg.NLU.Timeout)
	}
	if cfg.Server.Listen != "0.0.0.0:80" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
}

func TestParseEmptyConfigUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Store.Backend != BackendMemory || cfg.Log.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("log: [unclosed")); err == nil {
		t.Error("expected error")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"backend", "store:\n  backend: etcd\n", "unknown backend"},
		{"driver", "store:\n  backend: sql\n  sql:\n    driver: mysql\n", "unknown driver"},
		{"postgres dsn", "store:\n  backend: sql\n  sql:\n    driver: postgres\n", "dsn"},
		{"redis addr", "store:\n  backend: redis\n", "redis.addr"},
		{"log format", "log:\n  format: xml\n", "log.format"},
		{"nlu targets", "nlu:\n  enabled: true\n", "nlu.targets"},
		{"nlu api", "nlu:\n  targets:\n    - api: gemini\n", "unknown api"},
		{"duplicate workflow", "workflows:\n  - name: a\n  - name: a\n", "duplicate workflow"},
		{"policy", "workflows:\n  - name: a\n    steps:\n      - name: s\n        policy: retry\n", "unknown policy"},
		{"args and script", "workflows:\n  - name: a\n    steps:\n      - name: s\n        args: [x]\n        script: return 1\n", "only one"},
		{"plugin both", "providers:\n  plugins:\n    - name: p\n      path: /bin/p\n      address: tcp://x:1\n", "exactly one of path"},
		{"job target", "scheduler:\n  jobs:\n    - name: j\n      schedule: '@daily'\n", "exactly one of workflow"},
		{"job workflow", "scheduler:\n  jobs:\n    - name: j\n      schedule: '@daily'\n      workflow: nope\n", "unknown workflow"},
		{"timezone", "scheduler:\n  timezone: Mars/Olympus\n", "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CC_A", "1")
	t.Setenv("CC_B", "2")
	tests := []struct{ in, want string }{
		{"${CC_A}", "1"},
		{"${CC_A}-${CC_B}", "1-2"},
		{"https://example.com/${CC_A}", "https://example.com/1"},
		{"${CC_NOT_SET_ANYWHERE}", "${CC_NOT_SET_ANYWHERE}"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("history:\n  capacity: 7\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.History.Capacity != 7 {
		t.Errorf("Capacity = %d", cfg.History.Capacity)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
