package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentalon/commandcenter/internal/agent"
	"github.com/opentalon/commandcenter/internal/command"
	"github.com/opentalon/commandcenter/internal/suggest"
)

// HelpBuiltin returns the help command bound to reg. "help" lists every
// command; "help <name> [action]" shows details.
func HelpBuiltin(reg *Registry) Builtin {
	return Builtin{
		Name:        command.Help,
		Description: "Show available commands or details for one command",
		Usage:       "help [command] [action]",
		Examples:    []string{"help", "help memory", "help memory remember"},
		Handler: func(_ context.Context, cmd command.Structured) Result {
			if len(cmd.Args) == 0 {
				return Success(cmd, helpListing(reg))
			}
			name := strings.ToLower(cmd.Args[0])
			if b, ok := reg.Builtin(name); ok {
				return Success(cmd, builtinDetail(b))
			}
			if p, ok := reg.Provider(name); ok {
				cat, _ := reg.Catalog(name)
				if len(cmd.Args) > 1 {
					action := strings.ToLower(cmd.Args[1])
					if d, ok := cat[action]; ok {
						return Success(cmd, actionDetail(name, d))
					}
					res := Failure(cmd, CodeUnknownCommand, fmt.Sprintf("Unknown action '%s' for %s", action, name))
					res.Suggestions = suggest.Suggest(action, cat.Names())
					return res
				}
				return Success(cmd, providerDetail(p, cat))
			}
			res := Failure(cmd, CodeUnknownCommand, fmt.Sprintf("No help for unknown command '%s'", name))
			res.Suggestions = suggest.Suggest(name, reg.Names())
			return res
		},
	}
}

func helpListing(reg *Registry) string {
	var b strings.Builder
	b.WriteString("Available commands:\n\n")
	for _, n := range reg.BuiltinNames() {
		bi, _ := reg.Builtin(n)
		fmt.Fprintf(&b, "  %-12s %s\n", n, bi.Description)
	}
	if names := reg.ProviderNames(); len(names) > 0 {
		b.WriteString("\nAgents:\n\n")
		for _, n := range names {
			p, _ := reg.Provider(n)
			fmt.Fprintf(&b, "  %-12s %s\n", n, p.Description())
		}
	}
	b.WriteString("\nType 'help <command>' for details.\n")
	return b.String()
}

func builtinDetail(bi Builtin) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", bi.Name, bi.Description)
	if bi.Usage != "" {
		fmt.Fprintf(&b, "\nUsage: %s\n", bi.Usage)
	}
	writeExamples(&b, bi.Examples)
	return b.String()
}

func providerDetail(p agent.Provider, cat agent.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n\nActions:\n", p.Name(), p.Description())
	for _, n := range cat.Names() {
		d := cat[n]
		fmt.Fprintf(&b, "\n  %s - %s\n", n, d.Description)
		if d.Usage != "" {
			fmt.Fprintf(&b, "    Usage: %s\n", d.Usage)
		}
		for _, ex := range d.Examples {
			fmt.Fprintf(&b, "    e.g. %s\n", ex)
		}
	}
	return b.String()
}

func actionDetail(provider string, d agent.CapabilityDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s\n", provider, d.Name, d.Description)
	if d.Usage != "" {
		fmt.Fprintf(&b, "\nUsage: %s\n", d.Usage)
	}
	writeExamples(&b, d.Examples)
	return b.String()
}

func writeExamples(b *strings.Builder, examples []string) {
	if len(examples) == 0 {
		return
	}
	b.WriteString("\nExamples:\n")
	for _, ex := range examples {
		fmt.Fprintf(b, "  %s\n", ex)
	}
}
