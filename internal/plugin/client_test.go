package plugin

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opentalon/commandcenter/internal/agent"
	pkg "github.com/opentalon/commandcenter/pkg/plugin"
)

// fakeProviderServer serves handler on a unix socket until the test ends.
func fakeProviderServer(t *testing.T, handler pkg.Handler) (network, address string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "cc-pl-*")
	if err != nil {
		t.Fatal(err)
	}
	sockPath := filepath.Join(dir, "p.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		_ = os.RemoveAll(dir)
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pkg.Serve(ctx, ln, handler)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = os.RemoveAll(dir)
	})
	return "unix", sockPath
}

type echoHandler struct{}

func (echoHandler) Capabilities() pkg.CapabilitiesMsg {
	return pkg.CapabilitiesMsg{
		Name:        "echo",
		Description: "Echoes arguments back",
		Actions: []pkg.ActionMsg{
			{Name: "say", Description: "Echo a message", Usage: "echo say <text>"},
			{Name: "sleep", Description: "Block until cancelled"},
		},
	}
}

func (echoHandler) Execute(ctx context.Context, req pkg.Request) pkg.Response {
	switch req.Action {
	case "sleep":
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		return pkg.Response{Content: "woke"}
	case "say":
		if len(req.Args) == 0 {
			return pkg.Response{Error: "missing text"}
		}
		return pkg.Response{Content: "echo: " + strings.Join(req.Args, " ")}
	}
	return pkg.Response{Error: "unknown action " + req.Action}
}

func TestClientDialAndDescribe(t *testing.T) {
	network, addr := fakeProviderServer(t, echoHandler{})

	client, err := Dial(context.Background(), network, addr, defaultDialTimeout)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	var _ agent.Provider = client
	if client.Name() != "echo" || client.Description() != "Echoes arguments back" {
		t.Errorf("name/description = %q %q", client.Name(), client.Description())
	}
	cat := client.Describe()
	if len(cat) != 2 || cat["say"].Usage != "echo say <text>" {
		t.Errorf("catalog = %+v", cat)
	}
}

func TestClientExecute(t *testing.T) {
	network, addr := fakeProviderServer(t, echoHandler{})
	client, err := Dial(context.Background(), network, addr, defaultDialTimeout)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	for i := 0; i < 10; i++ {
		got, err := client.Execute(context.Background(), "say", []string{"hello", "world"})
		if err != nil {
			t.Fatal(err)
		}
		if got != "echo: hello world" {
			t.Fatalf("call %d: content = %q", i, got)
		}
	}

	_, err = client.Execute(context.Background(), "say", nil)
	var se *agent.StructuredError
	if !errors.As(err, &se) || se.Message != "missing text" {
		t.Errorf("err = %v, want structured 'missing text'", err)
	}
}

func TestClientExecuteCancelRedials(t *testing.T) {
	network, addr := fakeProviderServer(t, echoHandler{})
	client, err := Dial(context.Background(), network, addr, defaultDialTimeout)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Execute(ctx, "sleep", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	got, err := client.Execute(context.Background(), "say", []string{"again"})
	if err != nil || got != "echo: again" {
		t.Errorf("after redial: %q %v", got, err)
	}
}

func TestClientDialFailure(t *testing.T) {
	if _, err := Dial(context.Background(), "unix", "/nonexistent/provider.sock", defaultDialTimeout); err == nil {
		t.Error("expected error for nonexistent socket")
	}
}

func TestManagerLoadAndUnload(t *testing.T) {
	_, addr := fakeProviderServer(t, echoHandler{})
	mgr := NewManager(nil)

	providers, err := mgr.LoadAll(context.Background(), []Entry{
		{Name: "echo", Address: "unix://" + addr, Enabled: true},
		{Name: "off", Address: "tcp://127.0.0.1:1", Enabled: false},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(providers) != 1 || providers[0].Name() != "echo" {
		t.Fatalf("providers = %v", providers)
	}
	got, err := providers[0].Execute(context.Background(), "say", []string{"from manager"})
	if err != nil || got != "echo: from manager" {
		t.Errorf("Execute = %q %v", got, err)
	}

	if _, err := mgr.Load(context.Background(), Entry{Name: "echo", Address: "unix://" + addr, Enabled: true}); err == nil {
		t.Error("expected duplicate load error")
	}
	if names := mgr.List(); len(names) != 1 || names[0] != "echo" {
		t.Errorf("List = %v", names)
	}

	if err := mgr.Unload("echo"); err != nil {
		t.Fatal(err)
	}
	if len(mgr.List()) != 0 {
		t.Error("echo should be unloaded")
	}
	if err := mgr.Unload("echo"); err == nil {
		t.Error("expected error unloading twice")
	}
}

func TestManagerLoadErrors(t *testing.T) {
	mgr := NewManager(nil)
	_, err := mgr.LoadAll(context.Background(), []Entry{
		{Name: "none", Enabled: true},
		{Name: "both", Path: "/bin/true", Address: "tcp://x:1", Enabled: true},
		{Name: "bad", Address: "http://x", Enabled: true},
	})
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, name := range []string{"none", "both", "bad"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in, network, address string
		wantErr              bool
	}{
		{"unix:///tmp/p.sock", "unix", "/tmp/p.sock", false},
		{"tcp://127.0.0.1:9001", "tcp", "127.0.0.1:9001", false},
		{"localhost:9001", "tcp", "localhost:9001", false},
		{"grpc://x:1", "", "", true},
		{"tcp://", "", "", true},
	}
	for _, tt := range tests {
		network, address, err := ParseAddress(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAddress(%q) err = %v", tt.in, err)
			continue
		}
		if network != tt.network || address != tt.address {
			t.Errorf("ParseAddress(%q) = %q %q", tt.in, network, address)
		}
	}
}
