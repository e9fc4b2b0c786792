package suggest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var catalog = []string{
	"help", "about", "history", "workflow",
	"coder", "researcher", "sysadmin", "memory", "vscode",
	"security", "database", "devops", "learning", "file",
}

func TestSuggestUnknownFarAway(t *testing.T) {
	if d := Distance("xyz", "sysadmin"); d != 7 {
		t.Fatalf("Distance(xyz, sysadmin) = %d, want 7", d)
	}
	got := Suggest("xyz", catalog)
	if len(got) != 0 {
		t.Errorf("Suggest(xyz) = %v, want empty", got)
	}
}

func TestSuggestTypo(t *testing.T) {
	got := Suggest("codr", catalog)
	if len(got) == 0 || got[0] != "coder" {
		t.Errorf("Suggest(codr) = %v, want coder first", got)
	}
}

func TestSuggestFirstRuneCandidates(t *testing.T) {
	got := Suggest("hxxxxxxxxx", catalog)
	want := []string{"help", "history"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggestBoundAndOrdering(t *testing.T) {
	names := []string{"aa", "ab", "ac", "ad", "ae", "af", "ag", "a", "abc", "b"}
	for _, q := range []string{"a", "ax", "", "zzzz", "abcd"} {
		got := Suggest(q, names)
		if len(got) > Limit {
			t.Errorf("Suggest(%q) returned %d > %d", q, len(got), Limit)
		}
		for i := 1; i < len(got); i++ {
			di, dj := Distance(q, got[i-1]), Distance(q, got[i])
			if di > dj || (di == dj && got[i-1] > got[i]) {
				t.Errorf("Suggest(%q) = %v not sorted at %d", q, got, i)
			}
		}
		for _, s := range got {
			if s == q {
				t.Errorf("Suggest(%q) suggested itself", q)
			}
		}
	}
}

func TestSuggestDedupes(t *testing.T) {
	got := Suggest("fil", []string{"file", "file", "fill"})
	want := []string{"file", "fill"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestComplete(t *testing.T) {
	got := Complete("se", catalog)
	if len(got) == 0 || got[0] != "security" {
		t.Errorf("Complete(se) = %v, want security first", got)
	}
	if len(Complete("", catalog)) != 0 {
		t.Error("Complete(\"\") should be empty")
	}
}
