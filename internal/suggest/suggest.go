// Package suggest ranks known names against an unresolved one.
package suggest

import (
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Limit is the maximum number of suggestions returned.
const Limit = 5

// MaxDistance is the largest edit distance that still counts as similar.
const MaxDistance = 3

// Distance is the unit-cost edit distance between a and b, counted in runes.
func Distance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

type candidate struct {
	name string
	dist int
}

// Suggest returns at most Limit names from catalog that share name's first
// rune or lie within MaxDistance edits of it, nearest first with ties broken
// lexically. name itself is never suggested.
func Suggest(name string, catalog []string) []string {
	first, _ := utf8.DecodeRuneInString(name)
	seen := make(map[string]bool, len(catalog))
	var cands []candidate
	for _, c := range catalog {
		if c == "" || c == name || seen[c] {
			continue
		}
		seen[c] = true
		d := Distance(name, c)
		r, _ := utf8.DecodeRuneInString(c)
		if (name != "" && r == first) || d <= MaxDistance {
			cands = append(cands, candidate{name: c, dist: d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].name < cands[j].name
	})
	if len(cands) > Limit {
		cands = cands[:Limit]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.name
	}
	return out
}

// Complete returns catalog names starting with prefix, sorted, followed by
// Suggest results not already listed, capped at Limit.
func Complete(prefix string, catalog []string) []string {
	var out []string
	seen := map[string]bool{}
	sorted := append([]string(nil), catalog...)
	sort.Strings(sorted)
	for _, c := range sorted {
		if len(out) == Limit {
			return out
		}
		if prefix != "" && len(c) >= len(prefix) && c[:len(prefix)] == prefix && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	if prefix == "" {
		return out
	}
	for _, c := range Suggest(prefix, catalog) {
		if len(out) == Limit {
			break
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
