package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opentalon/commandcenter/internal/agent"
	"github.com/opentalon/commandcenter/internal/state"
)

func TestSplitRemember(t *testing.T) {
	tests := []struct {
		args                 []string
		key, value, category string
		ok                   bool
	}{
		{[]string{"ip", "10.0.0.1"}, "ip", "10.0.0.1", "", true},
		{[]string{"ip", "10.0.0.1", "infra"}, "ip", "10.0.0.1", "infra", true},
		{[]string{"note", "buy milk", "milk"}, "note", "buy milk milk", "", true},
		{[]string{"d", "friday", "--category=schedule"}, "d", "friday", "schedule", true},
		{[]string{"d", "a", "b", "--category=c"}, "d", "a b", "c", true},
		{[]string{"only"}, "", "", "", false},
	}
	for _, tt := range tests {
		k, v, c, ok := splitRemember(tt.args)
		if k != tt.key || v != tt.value || c != tt.category || ok != tt.ok {
			t.Errorf("splitRemember(%q) = %q %q %q %v", tt.args, k, v, c, ok)
		}
	}
}

func TestRememberRecallForget(t *testing.T) {
	ctx := context.Background()
	p := New(state.NewMemoryStore(""))

	out, err := p.Execute(ctx, "remember", []string{"server_ip", "192.168.1.100", "infrastructure"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Remembered: server_ip = 192.168.1.100 (category: infrastructure)" {
		t.Errorf("remember = %q", out)
	}

	out, _ = p.Execute(ctx, "recall", []string{"server_ip"})
	if out != "server_ip = 192.168.1.100 (category: infrastructure)" {
		t.Errorf("recall = %q", out)
	}

	out, _ = p.Execute(ctx, "forget", []string{"server_ip"})
	if out != "Forgotten: server_ip" {
		t.Errorf("forget = %q", out)
	}
	out, _ = p.Execute(ctx, "recall", []string{"server_ip"})
	if !strings.HasPrefix(out, "No memory found") {
		t.Errorf("recall after forget = %q", out)
	}
}

func TestListSearchCategories(t *testing.T) {
	ctx := context.Background()
	p := New(state.NewMemoryStore(""))

	if out, _ := p.Execute(ctx, "list", nil); out != "No memories stored yet." {
		t.Errorf("empty list = %q", out)
	}
	_, _ = p.Execute(ctx, "remember", []string{"b", "two", "x"})
	_, _ = p.Execute(ctx, "remember", []string{"a", "one", "y"})

	out, _ := p.Execute(ctx, "list", nil)
	if strings.Index(out, "- a = one") > strings.Index(out, "- b = two") {
		t.Errorf("list not sorted by key:\n%s", out)
	}
	out, _ = p.Execute(ctx, "list", []string{"x"})
	if strings.Contains(out, "- a") || !strings.Contains(out, "- b = two (category: x)") {
		t.Errorf("list x = %q", out)
	}
	out, _ = p.Execute(ctx, "search", []string{"ONE"})
	if !strings.Contains(out, "- a = one") {
		t.Errorf("search = %q", out)
	}
	out, _ = p.Execute(ctx, "categories", nil)
	if out != "Available Memory Categories:\n\n1. x\n2. y\n" {
		t.Errorf("categories = %q", out)
	}
}

func TestUsageErrorsAreStructured(t *testing.T) {
	p := New(state.NewMemoryStore(""))
	for _, action := range []string{"remember", "recall", "forget", "search", "bogus"} {
		_, err := p.Execute(context.Background(), action, nil)
		var se *agent.StructuredError
		if !errors.As(err, &se) {
			t.Errorf("%s: err = %v, want *agent.StructuredError", action, err)
		}
	}
}

func TestCatalogComplete(t *testing.T) {
	got := strings.Join(New(nil).Describe().Names(), ",")
	if got != "categories,forget,list,recall,remember,search" {
		t.Errorf("catalog = %s", got)
	}
}
