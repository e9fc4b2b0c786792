package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `log:
  level: error
store:
  backend: memory
  data_dir: ` + filepath.Join(dir, "data") + `
workflows:
  - name: note
    requires: [topic]
    steps:
      - name: save
        provider: memory
        action: remember
        args: ["{{ctx.topic}}", "noted"]
`
	path := filepath.Join(dir, "commandcenter.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := (&cli{}).root()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestExecAndHistory(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := run(t, "--config", cfg, "exec", "memory", "remember", "server_ip", "10.0.0.1")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(out, "Remembered: server_ip = 10.0.0.1") {
		t.Errorf("exec output = %q", out)
	}

	// The memory store is flushed on exit, so a second process sees it.
	out, _, err = run(t, "--config", cfg, "exec", "memory", "recall", "server_ip")
	if err != nil || strings.TrimSpace(out) != "server_ip = 10.0.0.1" {
		t.Errorf("recall = %q, %v", out, err)
	}
}

func TestExecKeepsShellGrouping(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := run(t, "--config", cfg, "exec", "memory", "remember", "server ip", "10.0.0.1")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(out, "Remembered: server ip = 10.0.0.1") {
		t.Errorf("exec output = %q", out)
	}

	out, _, err = run(t, "--config", cfg, "exec", "memory", "remember", "quote", "it's fine")
	if err != nil || !strings.Contains(out, "Remembered: quote = it's fine") {
		t.Errorf("exec with apostrophe = %q, %v", out, err)
	}

	// One argument is the whole command line.
	out, _, err = run(t, "--config", cfg, "exec", "memory recall 'server ip'")
	if err != nil || strings.TrimSpace(out) != "server ip = 10.0.0.1" {
		t.Errorf("recall = %q, %v", out, err)
	}
}

func TestExecReportsFailedFlush(t *testing.T) {
	cfg := writeConfig(t)
	// A directory where the snapshot temp file goes makes the flush on
	// close fail, even for root.
	data := filepath.Join(filepath.Dir(cfg), "data")
	if err := os.MkdirAll(filepath.Join(data, "records.yaml.tmp"), 0o700); err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, "--config", cfg, "exec", "memory", "remember", "k", "v")
	if !strings.Contains(out, "Remembered: k = v") {
		t.Errorf("exec output = %q", out)
	}
	if err == nil || errors.Is(err, errFailed) || !strings.Contains(err.Error(), "writing records") {
		t.Fatalf("err = %v, want the flush error", err)
	}
}

func TestExecFailure(t *testing.T) {
	_, stderr, err := run(t, "--config", writeConfig(t), "exec", "memroy", "list")
	if !errors.Is(err, errFailed) {
		t.Fatalf("err = %v, want errFailed", err)
	}
	if !strings.Contains(stderr, "did you mean: memory") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestWorkflowCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := run(t, "--config", cfg, "workflow", "list")
	if err != nil || !strings.Contains(out, "note\t1 steps") {
		t.Errorf("workflow list = %q, %v", out, err)
	}

	out, _, err = run(t, "--config", cfg, "workflow", "run", "note", "topic=go")
	if err != nil {
		t.Fatalf("workflow run: %v", err)
	}
	if !strings.Contains(out, "save: ok") {
		t.Errorf("workflow run = %q", out)
	}

	_, _, err = run(t, "--config", cfg, "workflow", "run", "note")
	if !errors.Is(err, errFailed) {
		t.Errorf("missing payload err = %v", err)
	}

	_, _, err = run(t, "--config", cfg, "workflow", "run", "note", "topic")
	if err == nil || errors.Is(err, errFailed) {
		t.Errorf("bad pair err = %v", err)
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	out, _, err := run(t, "--config", "/does/not/exist.yaml", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "CommandCenter ") {
		t.Errorf("version = %q", out)
	}
}

func TestMissingConfig(t *testing.T) {
	if _, _, err := run(t, "--config", "/does/not/exist.yaml", "history"); err == nil {
		t.Fatal("expected error")
	}
}
