package command

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenError reports an unterminated quote.
type TokenError struct {
	Quote  rune
	Offset int // byte offset of the opening quote
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("no closing quotation: %c opened at offset %d", e.Quote, e.Offset)
}

// Tokenize splits text on whitespace. Single and double quotes group their
// literal contents; there is no escape processing. Quoted and unquoted runs
// that touch are joined into one token. An empty quoted pair yields an
// empty token.
func Tokenize(text string) ([]string, error) {
	tokens := []string{}
	var (
		cur     strings.Builder
		inToken bool
		quote   rune
		openAt  int
	)

	for i, r := range text {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			openAt = i
			inToken = true
		case unicode.IsSpace(r):
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, &TokenError{Quote: quote, Offset: openAt}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// JoinQuoted wraps every token in single quotes and joins them with spaces.
// Tokenize(JoinQuoted(t)) == t for tokens without quote characters.
func JoinQuoted(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = "'" + t + "'"
	}
	return strings.Join(quoted, " ")
}

// JoinArgs joins argv-style arguments into one command line, quoting only
// the ones Tokenize would otherwise split or reject, so that
// Tokenize(JoinArgs(args)) == args.
func JoinArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = quoteArg(a)
	}
	return strings.Join(out, " ")
}

func quoteArg(a string) string {
	if a != "" && strings.IndexFunc(a, unicode.IsSpace) < 0 && !strings.ContainsAny(a, `'"`) {
		return a
	}
	// Single quotes cannot hold a single quote, so those go in double
	// quotes; adjacent quoted runs join into one token.
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range a {
		if r == '\'' {
			b.WriteString(`'"'"'`)
			continue
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}
