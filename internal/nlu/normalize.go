package nlu

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/opentalon/commandcenter/internal/command"
)

// MalformedError reports collaborator output that cannot be a command.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string { return "malformed nlu output: " + e.Reason }

// Normalize validates collaborator output and brings it to the same shape the
// parser produces: lowercased names, non-nil args and options, scalar option
// values, the caller's original text and nlu provenance.
func Normalize(c command.Structured, original string) (command.Structured, error) {
	name := strings.ToLower(strings.TrimSpace(c.Command))
	if name == "" {
		return command.Structured{}, &MalformedError{Reason: "empty command"}
	}
	if name == command.Error {
		return command.Structured{}, &MalformedError{Reason: "collaborator reported an error"}
	}
	if strings.ContainsAny(name, " \t\n") {
		return command.Structured{}, &MalformedError{Reason: fmt.Sprintf("command %q contains whitespace", name)}
	}

	out := command.Structured{
		Command:      name,
		Subcommand:   strings.ToLower(strings.TrimSpace(c.Subcommand)),
		Args:         append([]string{}, c.Args...),
		Options:      make(map[string]any, len(c.Options)),
		OriginalText: original,
		ResolvedBy:   command.ResolvedNLU,
	}
	for k, v := range c.Options {
		if k == "" {
			continue
		}
		sv, err := scalar(v)
		if err != nil {
			return command.Structured{}, &MalformedError{Reason: fmt.Sprintf("option %q: %v", k, err)}
		}
		out.Options[k] = sv
	}
	return out, nil
}

func scalar(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("non-finite number")
		}
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), nil
		}
		return x, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return scalar(f)
	case nil:
		return nil, fmt.Errorf("null value")
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}
