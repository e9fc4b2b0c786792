package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentalon/commandcenter/internal/agent"
)

// ProviderName is the command name the scheduler is reachable under.
const ProviderName = "scheduler"

// Tool exposes the scheduler as a provider so jobs can be managed with
// commands such as "scheduler add nightly '0 2 * * *' --workflow=build".
type Tool struct {
	sched *Scheduler
}

func NewTool(sched *Scheduler) *Tool { return &Tool{sched: sched} }

func (t *Tool) Name() string { return ProviderName }

func (t *Tool) Description() string {
	return "Manage scheduled jobs that run workflows or commands on cron schedules"
}

func (t *Tool) Describe() agent.Catalog {
	return agent.NewCatalog(
		agent.CapabilityDescriptor{
			Name:        "list",
			Description: "List scheduled jobs with their next run and last outcome",
			Usage:       "scheduler list",
		},
		agent.CapabilityDescriptor{
			Name:        "add",
			Description: "Add a job. Extra --key=value options become the workflow payload.",
			Usage:       "scheduler add <name> <schedule> (--workflow=<name> | --command=<text>) [--key=value ...]",
			Examples: []string{
				"scheduler add nightly '0 2 * * *' --workflow=research_and_code --topic=backups",
				"scheduler add hourly-notes '@every 1h' --command='memory list'",
			},
		},
		agent.CapabilityDescriptor{Name: "remove", Description: "Remove a dynamic job", Usage: "scheduler remove <name>"},
		agent.CapabilityDescriptor{Name: "pause", Description: "Pause a job", Usage: "scheduler pause <name>"},
		agent.CapabilityDescriptor{Name: "resume", Description: "Resume a paused job", Usage: "scheduler resume <name>"},
		agent.CapabilityDescriptor{Name: "run", Description: "Run a job now", Usage: "scheduler run <name>"},
	)
}

func (t *Tool) Execute(ctx context.Context, action string, args []string) (string, error) {
	positional, opts := splitArgs(args)
	switch action {
	case "list":
		return t.list(), nil
	case "add":
		return t.add(positional, opts)
	}

	if len(positional) != 1 {
		return "", agent.Errorf("Usage: scheduler %s <name>", action)
	}
	name := positional[0]
	switch action {
	case "remove":
		if err := t.sched.RemoveJob(name); err != nil {
			return "", agent.Errorf("%v", err)
		}
		return fmt.Sprintf("Job %q removed.", name), nil
	case "pause":
		if err := t.sched.PauseJob(name); err != nil {
			return "", agent.Errorf("%v", err)
		}
		return fmt.Sprintf("Job %q paused.", name), nil
	case "resume":
		if err := t.sched.ResumeJob(name); err != nil {
			return "", agent.Errorf("%v", err)
		}
		return fmt.Sprintf("Job %q resumed.", name), nil
	case "run":
		out, err := t.sched.RunNow(ctx, name)
		if err != nil {
			return "", err
		}
		return out, nil
	default:
		return "", agent.Errorf("unknown scheduler action: %s", action)
	}
}

func (t *Tool) add(positional []string, opts map[string]string) (string, error) {
	if len(positional) != 2 {
		return "", agent.Errorf("Usage: scheduler add <name> <schedule> (--workflow=<name> | --command=<text>)")
	}
	job := Job{
		Name:     positional[0],
		Schedule: positional[1],
		Workflow: opts["workflow"],
		Command:  opts["command"],
	}
	delete(opts, "workflow")
	delete(opts, "command")
	if len(opts) > 0 {
		job.Payload = opts
	}
	if err := t.sched.AddJob(job); err != nil {
		return "", agent.Errorf("%v", err)
	}
	return fmt.Sprintf("Job %q added: runs %s on %q", job.Name, job.Target(), job.Schedule), nil
}

func (t *Tool) list() string {
	jobs := t.sched.ListJobs()
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	var b strings.Builder
	b.WriteString("Scheduled Jobs:\n")
	for _, j := range jobs {
		state := "next " + j.Next.Format("2006-01-02 15:04")
		if j.Paused {
			state = "paused"
		}
		fmt.Fprintf(&b, "- %s [%s] %s (%s, %s)", j.Name, j.Schedule, j.Target(), state, j.Source)
		if !j.LastRun.IsZero() {
			last := "ok"
			if !j.LastOK {
				last = "failed"
			}
			fmt.Fprintf(&b, " last: %s", last)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// splitArgs separates --key=value options from positional args. A bare
// --flag is recorded as "true".
func splitArgs(args []string) ([]string, map[string]string) {
	var positional []string
	opts := make(map[string]string)
	for _, a := range args {
		if body, ok := strings.CutPrefix(a, "--"); ok && body != "" {
			k, v, hasValue := strings.Cut(body, "=")
			if !hasValue {
				v = "true"
			}
			opts[k] = v
			continue
		}
		positional = append(positional, a)
	}
	return positional, opts
}
