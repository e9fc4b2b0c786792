package command

import (
	"fmt"
	"sort"
	"strconv"
)

// ResolvedBy records which strategy produced a Structured command.
type ResolvedBy string

const (
	ResolvedHeuristic ResolvedBy = "heuristic"
	ResolvedNLU       ResolvedBy = "nlu"
	ResolvedFallback  ResolvedBy = "fallback"
)

const (
	// Error is the reserved command name for a parse failure.
	Error = "error"
	// Help is the command produced for empty input.
	Help = "help"
)

// Structured is the normalized result of parsing one line of input.
// Option values are string, int64, float64 or bool.
type Structured struct {
	Command      string         `json:"command" yaml:"command"`
	Subcommand   string         `json:"subcommand,omitempty" yaml:"subcommand,omitempty"`
	Args         []string       `json:"args" yaml:"args"`
	Options      map[string]any `json:"options" yaml:"options"`
	OriginalText string         `json:"original_text" yaml:"original_text"`
	ResolvedBy   ResolvedBy     `json:"resolved_by" yaml:"resolved_by"`
}

// NewError builds the error sentinel. The diagnostic is the only arg.
func NewError(original, diagnostic string) Structured {
	return Structured{
		Command:      Error,
		Args:         []string{diagnostic},
		Options:      map[string]any{},
		OriginalText: original,
		ResolvedBy:   ResolvedHeuristic,
	}
}

// IsError reports whether s is the parse-failure sentinel.
func (s Structured) IsError() bool {
	return s.Command == Error
}

// Diagnostic returns the parse-failure message, or "" for a regular command.
func (s Structured) Diagnostic() string {
	if !s.IsError() || len(s.Args) == 0 {
		return ""
	}
	return s.Args[0]
}

// HasSubcommand reports whether a subcommand was parsed.
func (s Structured) HasSubcommand() bool {
	return s.Subcommand != ""
}

// WithResolvedBy returns a copy stamped with the given provenance.
func (s Structured) WithResolvedBy(r ResolvedBy) Structured {
	c := s.Clone()
	c.ResolvedBy = r
	return c
}

// Clone returns a deep copy so callers never share Args or Options.
func (s Structured) Clone() Structured {
	c := s
	c.Args = append([]string(nil), s.Args...)
	if c.Args == nil {
		c.Args = []string{}
	}
	c.Options = make(map[string]any, len(s.Options))
	for k, v := range s.Options {
		c.Options[k] = v
	}
	return c
}

// OptionArgs renders the options as trailing args, sorted by key.
// A true flag renders as --key; everything else as --key=value.
func (s Structured) OptionArgs() []string {
	if len(s.Options) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Options))
	for k := range s.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v := s.Options[k]
		if b, ok := v.(bool); ok && b {
			out = append(out, "--"+k)
			continue
		}
		out = append(out, "--"+k+"="+FormatScalar(v))
	}
	return out
}

// ExecArgs returns the positional args followed by OptionArgs.
func (s Structured) ExecArgs() []string {
	out := make([]string, 0, len(s.Args)+len(s.Options))
	out = append(out, s.Args...)
	return append(out, s.OptionArgs()...)
}

// FormatScalar renders an option value the way ParseScalar would read it back.
func FormatScalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
