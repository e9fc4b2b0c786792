package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultAgentCommands are the commands that always take the
// "command subcommand args..." shape.
var DefaultAgentCommands = []string{
	"coder", "researcher", "sysadmin", "memory", "vscode",
	"security", "database", "devops", "learning", "file",
}

var floatPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Parser classifies tokens into command, subcommand, args and options.
// The classification is purely syntactic: it never consults what the
// target command expects.
type Parser struct {
	agentCommands map[string]bool
}

// NewParser returns a parser whose agent-style set is DefaultAgentCommands
// plus extra. The set is fixed for the life of the parser.
func NewParser(extra ...string) *Parser {
	set := make(map[string]bool, len(DefaultAgentCommands)+len(extra))
	for _, c := range DefaultAgentCommands {
		set[c] = true
	}
	for _, c := range extra {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			set[c] = true
		}
	}
	return &Parser{agentCommands: set}
}

// IsAgentCommand reports whether name consumes a subcommand.
func (p *Parser) IsAgentCommand(name string) bool {
	return p.agentCommands[strings.ToLower(name)]
}

// ParseText tokenizes and parses text. Quoting errors become the error sentinel.
func (p *Parser) ParseText(text string) Structured {
	tokens, err := Tokenize(text)
	if err != nil {
		return NewError(text, fmt.Sprintf("Could not parse command: %v", err))
	}
	return p.Parse(tokens, text)
}

// Parse classifies tokens. It never panics; an internal failure is returned
// as the error sentinel carrying the failure message.
func (p *Parser) Parse(tokens []string, original string) (cmd Structured) {
	defer func() {
		if r := recover(); r != nil {
			cmd = NewError(original, fmt.Sprintf("Could not parse command: %v", r))
		}
	}()

	cmd = Structured{
		Args:         []string{},
		Options:      map[string]any{},
		OriginalText: original,
		ResolvedBy:   ResolvedHeuristic,
	}
	if len(tokens) == 0 {
		cmd.Command = Help
		return cmd
	}

	cmd.Command = strings.ToLower(tokens[0])
	rest := tokens[1:]
	if p.agentCommands[cmd.Command] && len(rest) > 0 {
		cmd.Subcommand = strings.ToLower(rest[0])
		rest = rest[1:]
	}

	for _, tok := range rest {
		classify(&cmd, tok)
	}
	return cmd
}

func classify(cmd *Structured, tok string) {
	if strings.HasPrefix(tok, "--") {
		body := tok[2:]
		key, value, hasValue := strings.Cut(body, "=")
		if key == "" {
			cmd.Args = append(cmd.Args, tok)
			return
		}
		if hasValue {
			cmd.Options[key] = ParseScalar(value)
		} else {
			cmd.Options[key] = true
		}
		return
	}

	// Known limitation: only http:/https: are recognised as URLs, so values
	// such as 10:30 or C:\tmp are split into options.
	if !strings.HasPrefix(tok, "http:") && !strings.HasPrefix(tok, "https:") {
		if i := strings.IndexAny(tok, ":="); i > 0 {
			cmd.Options[tok[:i]] = tok[i+1:]
			return
		}
	}
	cmd.Args = append(cmd.Args, tok)
}

// ParseScalar reads a bool (case-insensitive), an int64, a finite float64,
// or leaves the value as a string, in that order.
func ParseScalar(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if floatPattern.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
