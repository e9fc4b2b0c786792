package orchestrator

import (
	"regexp"
	"strings"
)

const maxKeyFragment = 50

var (
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}_]`)
	underscore = regexp.MustCompile(`_+`)
)

// NormalizeKey lowercases text, replaces non-word characters with "_",
// collapses runs of "_" and keeps at most 50 runes.
func NormalizeKey(text string) string {
	k := nonWord.ReplaceAllString(strings.ToLower(text), "_")
	k = underscore.ReplaceAllString(k, "_")
	if r := []rune(k); len(r) > maxKeyFragment {
		k = string(r[:maxKeyFragment])
	}
	return k
}
