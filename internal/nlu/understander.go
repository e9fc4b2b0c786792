package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/command"
	"github.com/opentalon/commandcenter/internal/failover"
	"github.com/opentalon/commandcenter/internal/llm"
	"github.com/opentalon/commandcenter/internal/state"
)

const systemPrompt = `You convert natural-language requests into commands for a command center.

Reply with a single JSON object and nothing else:
{"command": "<main command>", "subcommand": "<action or empty>", "args": ["<positional>", ...], "options": {"<name>": <string|number|boolean>}}

Use only commands and actions from this catalog:
%s
If the request does not match any command, reply {"command": "error"}.`

// Target is one model endpoint. Targets are tried in order.
type Target struct {
	Client llm.Client
	Model  string
}

// LLMUnderstander asks a chat-completion model to translate text into a
// command, keeping a bounded per-session conversation.
type LLMUnderstander struct {
	targets     []Target
	sessions    *state.SessionStore
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewLLMUnderstander(sessions *state.SessionStore, targets ...Target) *LLMUnderstander {
	return &LLMUnderstander{
		targets:   targets,
		sessions:  sessions,
		maxTokens: 1000,
		logger:    zap.NewNop(),
	}
}

// WithLogger sets the logger for conversation store failures, which never
// fail a request.
func (u *LLMUnderstander) WithLogger(l *zap.Logger) *LLMUnderstander {
	u.logger = l
	return u
}

var _ Understander = (*LLMUnderstander)(nil)

func (u *LLMUnderstander) Understand(ctx context.Context, session, text string, catalog map[string]any) (command.Structured, error) {
	if len(u.targets) == 0 {
		return command.Structured{}, fmt.Errorf("no llm targets configured")
	}
	if session == "" {
		session = "default"
	}
	prompt, err := buildSystemPrompt(catalog)
	if err != nil {
		return command.Structured{}, err
	}

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: prompt}}
	if u.sessions != nil {
		past, err := u.sessions.History(session)
		if err != nil {
			u.logger.Warn("session history unavailable", zap.String("session", session), zap.Error(err))
		}
		msgs = append(msgs, past...)
	}
	user := llm.Message{Role: llm.RoleUser, Content: text}
	msgs = append(msgs, user)

	temp := u.temperature
	attempts := make([]failover.Attempt[*llm.Response], len(u.targets))
	for i, t := range u.targets {
		attempts[i] = func(ctx context.Context) (*llm.Response, error) {
			return t.Client.Complete(ctx, &llm.Request{
				Model:       t.Model,
				Messages:    msgs,
				MaxTokens:   u.maxTokens,
				Temperature: &temp,
			})
		}
	}
	resp, err := failover.First(ctx, attempts, func(r *llm.Response) bool { return r != nil })
	if err != nil {
		return command.Structured{}, err
	}

	cmd, err := ParseReply(resp.Content)
	if err != nil {
		return command.Structured{}, err
	}
	if u.sessions != nil {
		if err := u.sessions.Append(session, user, llm.Message{Role: llm.RoleAssistant, Content: resp.Content}); err != nil {
			u.logger.Warn("session history not saved", zap.String("session", session), zap.Error(err))
		}
	}
	cmd.OriginalText = text
	return cmd, nil
}

func buildSystemPrompt(catalog map[string]any) (string, error) {
	if len(catalog) == 0 {
		return fmt.Sprintf(systemPrompt, "(empty)"), nil
	}
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		data, err := json.Marshal(catalog[n])
		if err != nil {
			return "", fmt.Errorf("marshal catalog entry %q: %w", n, err)
		}
		fmt.Fprintf(&b, "- %s: %s\n", n, data)
	}
	return fmt.Sprintf(systemPrompt, b.String()), nil
}

type reply struct {
	Command    string         `json:"command"`
	Subcommand string         `json:"subcommand"`
	Args       []any          `json:"args"`
	Options    map[string]any `json:"options"`
}

// ParseReply extracts the JSON command from a model reply. The object may be
// wrapped in a ```json fence or surrounded by prose.
func ParseReply(content string) (command.Structured, error) {
	raw := extractJSON(content)
	if raw == "" {
		return command.Structured{}, &MalformedError{Reason: "no JSON object in reply"}
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var r reply
	if err := dec.Decode(&r); err != nil {
		return command.Structured{}, &MalformedError{Reason: err.Error()}
	}
	args := make([]string, 0, len(r.Args))
	for _, a := range r.Args {
		switch x := a.(type) {
		case string:
			args = append(args, x)
		case json.Number:
			args = append(args, x.String())
		case bool:
			args = append(args, fmt.Sprint(x))
		default:
			return command.Structured{}, &MalformedError{Reason: fmt.Sprintf("arg of type %T", a)}
		}
	}
	return command.Structured{
		Command:    r.Command,
		Subcommand: r.Subcommand,
		Args:       args,
		Options:    r.Options,
	}, nil
}

func extractJSON(content string) string {
	if i := strings.Index(content, "```json"); i >= 0 {
		rest := content[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return content[start : end+1]
}
