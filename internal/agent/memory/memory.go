// Package memory is the key/value memory provider backed by the durable
// store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/opentalon/commandcenter/internal/agent"
	"github.com/opentalon/commandcenter/internal/state"
)

const Name = "memory"

var catalog = agent.NewCatalog(
	agent.CapabilityDescriptor{
		Name:        "remember",
		Description: "Store a piece of information for future retrieval",
		Usage:       "memory remember <key> <value> [category]",
		Examples:    []string{"memory remember server_ip 192.168.1.100 infrastructure", "memory remember deadline '2026-12-31' --category=schedule"},
	},
	agent.CapabilityDescriptor{
		Name:        "recall",
		Description: "Retrieve a previously stored piece of information",
		Usage:       "memory recall <key>",
		Examples:    []string{"memory recall server_ip"},
	},
	agent.CapabilityDescriptor{
		Name:        "forget",
		Description: "Delete a stored piece of information",
		Usage:       "memory forget <key>",
		Examples:    []string{"memory forget server_ip"},
	},
	agent.CapabilityDescriptor{
		Name:        "list",
		Description: "List stored memories, optionally filtered by category",
		Usage:       "memory list [category]",
		Examples:    []string{"memory list", "memory list infrastructure"},
	},
	agent.CapabilityDescriptor{
		Name:        "search",
		Description: "Search memories whose key or value contains a term",
		Usage:       "memory search <term>",
		Examples:    []string{"memory search ip"},
	},
	agent.CapabilityDescriptor{
		Name:        "categories",
		Description: "List all memory categories",
		Usage:       "memory categories",
		Examples:    []string{"memory categories"},
	},
)

// Provider implements agent.Provider over a state.KnowledgeStore.
type Provider struct {
	store state.KnowledgeStore
}

func New(store state.KnowledgeStore) *Provider {
	return &Provider{store: store}
}

var _ agent.Provider = (*Provider)(nil)

func (p *Provider) Name() string            { return Name }
func (p *Provider) Description() string     { return "Remembers facts across sessions" }
func (p *Provider) Describe() agent.Catalog { return catalog }

func (p *Provider) Execute(ctx context.Context, action string, args []string) (string, error) {
	switch action {
	case "remember":
		return p.remember(ctx, args)
	case "recall":
		if len(args) == 0 {
			return "", agent.Errorf("missing key. Usage: %s", catalog["recall"].Usage)
		}
		return p.recall(ctx, args[0])
	case "forget":
		if len(args) == 0 {
			return "", agent.Errorf("missing key. Usage: %s", catalog["forget"].Usage)
		}
		if err := p.store.Delete(ctx, args[0]); err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return "No memory found for key: " + args[0], nil
			}
			return "", fmt.Errorf("forget: %w", err)
		}
		return "Forgotten: " + args[0], nil
	case "list":
		category := ""
		if len(args) > 0 {
			category = args[0]
		}
		return p.list(ctx, category)
	case "search":
		if len(args) == 0 {
			return "", agent.Errorf("missing search term. Usage: %s", catalog["search"].Usage)
		}
		return p.search(ctx, strings.Join(args, " "))
	case "categories":
		return p.categories(ctx)
	default:
		return "", agent.Errorf("unknown memory action %q", action)
	}
}

// splitRemember extracts key, value and category. A --category=X flag wins;
// otherwise with three or more args the last one is the category unless it
// also occurs inside the value.
func splitRemember(args []string) (key, value, category string, ok bool) {
	var rest []string
	for _, a := range args {
		if c, found := strings.CutPrefix(a, "--category="); found {
			category = c
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) < 2 {
		return "", "", "", false
	}
	key = rest[0]
	if category != "" || len(rest) == 2 {
		return key, strings.Join(rest[1:], " "), category, true
	}
	value = strings.Join(rest[1:len(rest)-1], " ")
	category = rest[len(rest)-1]
	if strings.Contains(value, category) {
		return key, strings.Join(rest[1:], " "), "", true
	}
	return key, value, category, true
}

func (p *Provider) remember(ctx context.Context, args []string) (string, error) {
	key, value, category, ok := splitRemember(args)
	if !ok {
		return "", agent.Errorf("missing key or value. Usage: %s", catalog["remember"].Usage)
	}
	if err := p.store.Put(ctx, key, value, category); err != nil {
		return "", fmt.Errorf("remember: %w", err)
	}
	return fmt.Sprintf("Remembered: %s = %s%s", key, value, categoryInfo(category)), nil
}

func (p *Provider) recall(ctx context.Context, key string) (string, error) {
	r, err := p.store.Record(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		return "No memory found for key: " + key, nil
	}
	if err != nil {
		return "", fmt.Errorf("recall: %w", err)
	}
	return fmt.Sprintf("%s = %s%s", r.Key, r.Value, categoryInfo(r.Category)), nil
}

func (p *Provider) list(ctx context.Context, category string) (string, error) {
	recs, err := p.store.List(ctx, category)
	if err != nil {
		return "", fmt.Errorf("list: %w", err)
	}
	if len(recs) == 0 {
		if category != "" {
			return "No memories found for category: " + category, nil
		}
		return "No memories stored yet.", nil
	}
	return formatRecords("Stored Memories"+categoryInfo(category)+":", recs), nil
}

func (p *Provider) search(ctx context.Context, term string) (string, error) {
	recs, err := p.store.Search(ctx, term)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if len(recs) == 0 {
		return fmt.Sprintf("No memories found containing '%s'", term), nil
	}
	return formatRecords(fmt.Sprintf("Search Results for '%s':", term), recs), nil
}

func (p *Provider) categories(ctx context.Context) (string, error) {
	cats, err := p.store.Categories(ctx)
	if err != nil {
		return "", fmt.Errorf("categories: %w", err)
	}
	if len(cats) == 0 {
		return "No categories defined yet.", nil
	}
	var b strings.Builder
	b.WriteString("Available Memory Categories:\n\n")
	for i, c := range cats {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	return b.String(), nil
}

func formatRecords(title string, recs []state.Record) string {
	sorted := append([]state.Record(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	var b strings.Builder
	b.WriteString(title + "\n\n")
	for _, r := range sorted {
		fmt.Fprintf(&b, "- %s = %s%s\n", r.Key, r.Value, categoryInfo(r.Category))
	}
	return b.String()
}

func categoryInfo(c string) string {
	if c == "" {
		return ""
	}
	return " (category: " + c + ")"
}
