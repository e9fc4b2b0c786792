package requestpkg

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opentalon/commandcenter/internal/agent"
)

func TestSubstitute(t *testing.T) {
	t.Setenv("TEST_ENV_VAR", "env_value")

	tests := []struct {
		name string
		s    string
		args map[string]string
		want string
	}{
		{"env", "{{env.TEST_ENV_VAR}}", nil, "env_value"},
		{"args", "{{args.foo}}", map[string]string{"foo": "bar"}, "bar"},
		{"mixed", "{{env.TEST_ENV_VAR}}/{{args.id}}", map[string]string{"id": "123"}, "env_value/123"},
		{"missing env", "{{env.MISSING}}", nil, ""},
		{"missing args", "{{args.missing}}", nil, "{{args.missing}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Substitute(tt.s, tt.args); got != tt.want {
				t.Errorf("Substitute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBindArgs(t *testing.T) {
	pkg := Package{Action: "create", Parameters: []ParamDefinition{
		{Name: "project", Required: true},
		{Name: "priority", Default: "low"},
		{Name: "summary"},
	}}
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{"positional", []string{"OPS", "high", "fix"}, map[string]string{"project": "OPS", "priority": "high", "summary": "fix"}},
		{"named wins", []string{"--project=OPS", "high"}, map[string]string{"project": "OPS", "priority": "high"}},
		{"default", []string{"--summary=x", "OPS"}, map[string]string{"project": "OPS", "priority": "low", "summary": "x"}},
		{"overflow joins last", []string{"OPS", "high", "disk", "is", "full"}, map[string]string{"project": "OPS", "priority": "high", "summary": "disk is full"}},
		{"flag", []string{"OPS", "--urgent"}, map[string]string{"project": "OPS", "priority": "low", "urgent": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BindArgs(pkg, tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BindArgs mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := BindArgs(pkg, nil)
	var se *agent.StructuredError
	if !errors.As(err, &se) || !strings.Contains(se.Message, "project") {
		t.Errorf("missing required: err = %v", err)
	}
	if _, err := BindArgs(Package{Action: "ping"}, []string{"x"}); err == nil {
		t.Error("expected error for args to a parameterless action")
	}
}

func TestProviderExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if want := `{"project":"OPS","summary":"say \"hi\""}`; string(body) != want {
			t.Errorf("body = %s, want %s", body, want)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":"OPS-42","self":"https://tracker.example.com/OPS-42"}`))
	}))
	defer srv.Close()

	t.Setenv("TRACKER_URL", srv.URL)
	t.Setenv("TRACKER_TOKEN", "secret")

	p, err := New(Set{
		Provider:    "tracker",
		Description: "Issue tracker",
		Packages: []Package{{
			Action:      "create_issue",
			Description: "Create an issue",
			Method:      "post",
			URL:         "{{env.TRACKER_URL}}/issues",
			Body:        `{"project":"{{args.project}}","summary":"{{args.summary}}"}`,
			Headers:     map[string]string{"Authorization": "Bearer {{env.TRACKER_TOKEN}}"},
			RequiredEnv: []string{"TRACKER_URL", "TRACKER_TOKEN"},
			Parameters:  []ParamDefinition{{Name: "project", Required: true}, {Name: "summary", Required: true}},
			ResultField: "key",
		}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.Execute(context.Background(), "create_issue", []string{"OPS", `say "hi"`})
	if err != nil {
		t.Fatal(err)
	}
	if got != "OPS-42" {
		t.Errorf("Execute = %q, want OPS-42", got)
	}

	cat := p.Describe()
	if !cat.Has("create_issue") || cat["create_issue"].Usage != "tracker create_issue <project> <summary>" {
		t.Errorf("catalog = %+v", cat)
	}
}

func TestProviderExecuteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p, err := New(Set{Provider: "svc", Packages: []Package{
		{Action: "get", URL: srv.URL},
		{Action: "needs_env", URL: srv.URL, RequiredEnv: []string{"CC_MISSING_VAR"}},
	}}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Execute(context.Background(), "get", nil); err == nil || !strings.Contains(err.Error(), "HTTP 403") {
		t.Errorf("err = %v, want HTTP 403", err)
	}
	_, err = p.Execute(context.Background(), "needs_env", nil)
	if err == nil || err.Error() != `required env "CC_MISSING_VAR" is not set` {
		t.Errorf("err = %v", err)
	}
	if _, err := p.Execute(context.Background(), "absent", nil); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestNewRejectsBadSets(t *testing.T) {
	bad := []Set{
		{},
		{Provider: "x", Packages: []Package{{Action: "a"}}},
		{Provider: "x", Packages: []Package{{Action: "a", URL: "u"}, {Action: "a", URL: "u"}}},
		{Provider: "x", Timeout: "soon"},
	}
	for i, s := range bad {
		if _, err := New(s, nil); err == nil {
			t.Errorf("set %d: expected error", i)
		}
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write("weather.yaml", `
provider: weather
description: Forecasts
packages:
  - action: today
    url: https://weather.example.com/{{args.city}}
    parameters:
      - name: city
        required: true
`)
	write("notes.txt", "ignored")

	sets, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 1 || sets[0].Provider != "weather" || sets[0].Packages[0].Parameters[0].Name != "city" {
		t.Fatalf("sets = %+v", sets)
	}
	providers, err := Providers(sets, nil)
	if err != nil {
		t.Fatal(err)
	}
	if providers[0].Name() != "weather" {
		t.Errorf("Name = %q", providers[0].Name())
	}

	if sets, err := LoadDir(filepath.Join(dir, "missing")); err != nil || sets != nil {
		t.Errorf("missing dir: %v %v", sets, err)
	}

	write("broken.yaml", "packages: []\n")
	if _, err := LoadDir(dir); err == nil {
		t.Error("expected error for set without provider")
	}
}
