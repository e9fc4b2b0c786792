package commander

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opentalon/commandcenter/internal/command"
	"github.com/opentalon/commandcenter/internal/dispatch"
	"github.com/opentalon/commandcenter/internal/orchestrator"
	"github.com/opentalon/commandcenter/internal/suggest"
	"github.com/opentalon/commandcenter/internal/version"
)

var workflowSubcommands = []string{"list", "run", "show"}

func (c *Commander) aboutBuiltin() dispatch.Builtin {
	return dispatch.Builtin{
		Name:        "about",
		Description: "Show information about the command center",
		Usage:       "about",
		Examples:    []string{"about"},
		Handler: func(_ context.Context, cmd command.Structured) dispatch.Result {
			var b strings.Builder
			b.WriteString(version.Get().String())
			b.WriteString("\n\n")
			fmt.Fprintf(&b, "Uptime:    %s\n", time.Since(c.started).Truncate(time.Second))
			fmt.Fprintf(&b, "Agents:    %s\n", joinOrNone(c.reg.ProviderNames()))
			fmt.Fprintf(&b, "Built-ins: %s\n", joinOrNone(c.reg.BuiltinNames()))
			if c.workflows != nil {
				fmt.Fprintf(&b, "Workflows: %s\n", joinOrNone(c.workflowNames()))
			}
			return dispatch.Success(cmd, b.String())
		},
	}
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

func (c *Commander) historyBuiltin() dispatch.Builtin {
	return dispatch.Builtin{
		Name:        "history",
		Description: "Show recent commands and their results",
		Usage:       "history [limit]",
		Examples:    []string{"history", "history 25"},
		Handler: func(ctx context.Context, cmd command.Structured) dispatch.Result {
			limit := DefaultHistoryLimit
			if len(cmd.Args) > 0 {
				n, err := strconv.Atoi(cmd.Args[0])
				if err != nil || n <= 0 {
					return dispatch.Failure(cmd, dispatch.CodeParseError, "Usage: history [limit]")
				}
				limit = n
			}
			entries, err := c.history.Recent(ctx, limit)
			if err != nil {
				return dispatch.Failure(cmd, dispatch.CodeProviderError, fmt.Sprintf("Error reading history: %v", err))
			}
			if len(entries) == 0 {
				return dispatch.Success(cmd, "No history yet.")
			}
			var b strings.Builder
			b.WriteString("Recent commands:\n")
			for _, e := range entries {
				mark := "ok"
				if !e.OK {
					mark = "failed"
				}
				fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", e.Timestamp.Format(time.RFC3339), e.CommandText, mark, e.Result)
			}
			return dispatch.Success(cmd, b.String())
		},
	}
}

func (c *Commander) workflowBuiltin() dispatch.Builtin {
	return dispatch.Builtin{
		Name:        "workflow",
		Description: "List, inspect and run multi-step workflows",
		Usage:       "workflow list | workflow show <name> | workflow run <name> [key=value ...]",
		Examples:    []string{"workflow list", "workflow show research", "workflow run research topic='rate limiting'"},
		Subcommands: true,
		Handler:     c.handleWorkflow,
	}
}

func (c *Commander) handleWorkflow(ctx context.Context, cmd command.Structured) dispatch.Result {
	switch cmd.Subcommand {
	case "", "list":
		return dispatch.Success(cmd, c.formatWorkflowList())
	case "show":
		if len(cmd.Args) != 1 {
			return dispatch.Failure(cmd, dispatch.CodeParseError, "Usage: workflow show <name>")
		}
		def, ok := c.workflows.Definition(cmd.Args[0])
		if !ok {
			return c.unknownWorkflow(cmd, cmd.Args[0])
		}
		return dispatch.Success(cmd, formatDefinition(def))
	case "run":
		if len(cmd.Args) != 1 {
			return dispatch.Failure(cmd, dispatch.CodeParseError, "Usage: workflow run <name> [key=value ...]")
		}
		name := cmd.Args[0]
		if _, ok := c.workflows.Definition(name); !ok {
			return c.unknownWorkflow(cmd, name)
		}
		payload := make(map[string]any, len(cmd.Options))
		for k, v := range cmd.Options {
			payload[k] = v
		}
		res := c.workflows.Run(ctx, name, payload)
		msg := formatRun(res)
		if !res.OK() {
			return dispatch.Failure(cmd, dispatch.CodeWorkflowError, msg)
		}
		return dispatch.Success(cmd, msg)
	default:
		r := dispatch.Failure(cmd, dispatch.CodeUnknownCommand, fmt.Sprintf("Unknown action '%s' for workflow", cmd.Subcommand))
		r.Suggestions = suggest.Suggest(cmd.Subcommand, workflowSubcommands)
		return r
	}
}

func (c *Commander) unknownWorkflow(cmd command.Structured, name string) dispatch.Result {
	r := dispatch.Failure(cmd, dispatch.CodeWorkflowError, fmt.Sprintf("Unknown workflow '%s'", name))
	r.Suggestions = suggest.Suggest(name, c.workflowNames())
	return r
}

func (c *Commander) formatWorkflowList() string {
	defs := c.workflows.List()
	if len(defs) == 0 {
		return "No workflows configured."
	}
	var b strings.Builder
	b.WriteString("Workflows:\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "- %s (%d steps)", d.Name, len(d.Steps))
		if d.Description != "" {
			fmt.Fprintf(&b, ": %s", d.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func formatDefinition(d orchestrator.Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", d.Name)
	if d.Description != "" {
		fmt.Fprintf(&b, ": %s", d.Description)
	}
	b.WriteByte('\n')
	if len(d.Requires) > 0 {
		fmt.Fprintf(&b, "Requires: %s\n", strings.Join(d.Requires, ", "))
	}
	b.WriteString("Steps:\n")
	for i, s := range d.Steps {
		fmt.Fprintf(&b, "  %d. %s -> %s %s (%s)\n", i+1, s.Name, s.Provider, s.Action, s.Policy)
	}
	if d.Persist.Skip {
		b.WriteString("Persist: off\n")
	}
	return b.String()
}

func formatRun(res *orchestrator.Result) string {
	var b strings.Builder
	b.WriteString(res.Summary())
	b.WriteByte('\n')
	for _, s := range res.Steps {
		if s.OK {
			fmt.Fprintf(&b, "  ok      %s (%s)\n", s.Name, s.Duration.Round(time.Millisecond))
		} else {
			fmt.Fprintf(&b, "  failed  %s: %s\n", s.Name, s.Error)
		}
	}
	if res.PersistedKey != "" {
		fmt.Fprintf(&b, "Saved as %s\n", res.PersistedKey)
	}
	if res.OK() && len(res.Steps) > 0 {
		last := res.Steps[len(res.Steps)-1]
		if out := res.Context.String(last.Name); out != "" {
			fmt.Fprintf(&b, "\n%s\n", out)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// PayloadFromPairs parses key=value pairs into a workflow payload.
func PayloadFromPairs(pairs []string) (map[string]any, error) {
	payload := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid payload %q: want key=value", p)
		}
		payload[k] = v
	}
	return payload, nil
}
