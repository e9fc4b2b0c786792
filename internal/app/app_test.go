package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/agent"
	"github.com/opentalon/commandcenter/internal/config"
	"github.com/opentalon/commandcenter/internal/orchestrator"
)

const baseConfig = `
store:
  backend: %s
  data_dir: %s
  redis:
    addr: %s
scheduler:
  enabled: true
  jobs:
    - name: nightly
      schedule: "0 3 * * *"
      workflow: note
      payload:
        topic: go
workflows:
  - name: note
    requires: [topic]
    steps:
      - name: save
        provider: memory
        action: remember
        args: ["{{ctx.topic}}", "noted"]
      - name: check
        provider: memory
        action: recall
        args: ["{{ctx.topic}}"]
    persist:
      key_prefix: note
      key_field: topic
`

func loadConfig(t *testing.T, backend, dataDir, redisAddr string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(baseConfig, backend, dataDir, redisAddr)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func build(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func exerciseApp(t *testing.T, a *App) {
	t.Helper()
	ctx := context.Background()

	res := a.Commander.RunWorkflow(ctx, "note", map[string]any{"topic": "go"})
	if res.Status != orchestrator.StatusCompleted {
		t.Fatalf("Status = %s (%s)", res.Status, res.Error)
	}
	if res.PersistedKey != "note_go" {
		t.Errorf("PersistedKey = %q", res.PersistedKey)
	}
	if v, err := a.Store.Get(ctx, "go"); err != nil || v != "noted" {
		t.Errorf("Get(go) = %q, %v", v, err)
	}
	if _, err := a.Store.Get(ctx, "note_go"); err != nil {
		t.Errorf("workflow record: %v", err)
	}

	out := a.Commander.ResolveAndDispatch(ctx, "memory recall go")
	if !out.OK || out.Message != "go = noted" {
		t.Errorf("recall = %+v", out)
	}

	entries, err := a.Commander.History(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].CommandText != "memory recall go" {
		t.Errorf("history = %+v", entries)
	}
}

func TestBuildMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	a := build(t, loadConfig(t, "memory", dir, ""))
	exerciseApp(t, a)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "records.yaml")); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	// Records survive a restart.
	again := build(t, loadConfig(t, "memory", dir, ""))
	out := again.Commander.ResolveAndDispatch(context.Background(), "memory recall go")
	if out.Message != "go = noted" {
		t.Errorf("after restart: %+v", out)
	}
}

func TestBuildSQLBackend(t *testing.T) {
	exerciseApp(t, build(t, loadConfig(t, "sql", t.TempDir(), "")))
}

func TestBuildRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	exerciseApp(t, build(t, loadConfig(t, "redis", t.TempDir(), mr.Addr())))
}

func TestSchedulerToolIsRegistered(t *testing.T) {
	a := build(t, loadConfig(t, "memory", t.TempDir(), ""))
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out := a.Commander.ResolveAndDispatch(context.Background(), "scheduler list")
	if !out.OK || !strings.Contains(out.Message, "nightly") {
		t.Errorf("scheduler list = %+v", out)
	}
	if _, err := a.Scheduler.RunNow(context.Background(), "nightly"); err != nil {
		t.Errorf("RunNow: %v", err)
	}
}

func TestExtraProviders(t *testing.T) {
	echo := &agent.Func{
		ProviderName: "echo",
		Desc:         "Echoes its input",
		Actions:      agent.NewCatalog(agent.CapabilityDescriptor{Name: "say"}),
		Fn: func(_ context.Context, _ string, args []string) (string, error) {
			return strings.Join(args, " "), nil
		},
	}
	a := build(t, loadConfig(t, "memory", t.TempDir(), ""), WithProviders(echo))
	out := a.Commander.ResolveAndDispatch(context.Background(), "echo say hello there")
	if !out.OK || out.Message != "hello there" {
		t.Errorf("echo = %+v", out)
	}
}

func TestBuildErrors(t *testing.T) {
	t.Run("unknown builtin provider", func(t *testing.T) {
		cfg := loadConfig(t, "memory", t.TempDir(), "")
		cfg.Providers.Builtin = []string{"teleporter"}
		if _, err := Build(context.Background(), cfg, zap.NewNop()); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("workflow with missing provider", func(t *testing.T) {
		cfg := loadConfig(t, "memory", t.TempDir(), "")
		cfg.Providers.Builtin = []string{}
		_, err := Build(context.Background(), cfg, zap.NewNop())
		if err == nil || !strings.Contains(err.Error(), "memory") {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		if _, err := Build(context.Background(), loadConfig(t, "redis", t.TempDir(), addr), zap.NewNop()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestRequestPackagesResolveAgainstBaseDir(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "requests"), 0o755); err != nil {
		t.Fatal(err)
	}
	pkg := `provider: weather
description: Weather lookups
packages:
  - action: now
    description: Current weather
    method: GET
    url: http://127.0.0.1:1/weather
`
	if err := os.WriteFile(filepath.Join(base, "requests", "weather.yaml"), []byte(pkg), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := loadConfig(t, "memory", t.TempDir(), "")
	cfg.Providers.Requests.Dir = "requests"
	a := build(t, cfg, WithBaseDir(base))
	out := a.Commander.ResolveAndDispatch(context.Background(), "help weather")
	if !out.OK || !strings.Contains(out.Message, "now") {
		t.Errorf("help weather = %+v", out)
	}
}

func TestBuildExampleConfig(t *testing.T) {
	cfg, err := config.Load("../../configs/commandcenter.example.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Store.DataDir = t.TempDir()
	a := build(t, cfg, WithBaseDir("../../configs"))

	out := a.Commander.ResolveAndDispatch(context.Background(), "help researcher")
	if !out.OK || !strings.Contains(out.Message, "summarize") {
		t.Errorf("help researcher = %+v", out)
	}
	res := a.Commander.RunWorkflow(context.Background(), "knowledge_store", map[string]any{"key": "editor", "content": "helix"})
	if res.Status != orchestrator.StatusCompleted || res.PersistedKey != "knowledge_editor" {
		t.Errorf("knowledge_store = %s %q (%s)", res.Status, res.PersistedKey, res.Error)
	}
}
