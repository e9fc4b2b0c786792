package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opentalon/commandcenter/internal/llm"
)

func msg(i int) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("m%d", i)}
}

func history(t *testing.T, s *SessionStore, id string) []llm.Message {
	t.Helper()
	h, err := s.History(id)
	if err != nil {
		t.Fatalf("History(%q): %v", id, err)
	}
	return h
}

func appendMsgs(t *testing.T, s *SessionStore, id string, msgs ...llm.Message) {
	t.Helper()
	if err := s.Append(id, msgs...); err != nil {
		t.Fatalf("Append(%q): %v", id, err)
	}
}

func TestSessionMessageCap(t *testing.T) {
	s := NewSessionStore("", 3, 10)
	for i := 0; i < 5; i++ {
		appendMsgs(t, s, "u1", msg(i))
	}
	h := history(t, s, "u1")
	if len(h) != 3 {
		t.Fatalf("len = %d, want 3", len(h))
	}
	if h[0].Content != "m2" || h[2].Content != "m4" {
		t.Errorf("history = %+v, want oldest dropped", h)
	}
}

func TestSessionEvictsLeastRecentlyUpdated(t *testing.T) {
	s := NewSessionStore("", 5, 2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	appendMsgs(t, s, "a", msg(1))
	appendMsgs(t, s, "b", msg(2))
	appendMsgs(t, s, "a", msg(3))
	appendMsgs(t, s, "c", msg(4))

	if len(s.sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(s.sessions))
	}
	if history(t, s, "b") != nil {
		t.Error("session b should have been evicted")
	}
	if len(history(t, s, "a")) != 2 {
		t.Error("session a should survive")
	}
}

func TestSessionHistoryIsCopy(t *testing.T) {
	s := NewSessionStore("", 0, 0)
	appendMsgs(t, s, "x", msg(1))
	h := history(t, s, "x")
	h[0].Content = "mutated"
	if history(t, s, "x")[0].Content != "m1" {
		t.Error("History leaked internal slice")
	}
}

func TestSessionsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir, 0, 0)
	appendMsgs(t, s, "sess", msg(1), msg(2))

	s2 := NewSessionStore(dir, 1, 0)
	h := history(t, s2, "sess")
	if len(h) != 1 || h[0].Content != "m2" {
		t.Errorf("reloaded history = %+v", h)
	}

	// Appending to a session known only on disk keeps its earlier messages.
	s3 := NewSessionStore(dir, 0, 0)
	appendMsgs(t, s3, "sess", msg(3))
	if h := history(t, NewSessionStore(dir, 0, 0), "sess"); len(h) != 3 {
		t.Errorf("history after append = %+v", h)
	}
}

func TestSessionFileNamesDoNotUseRawID(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(filepath.Join(dir, "sessions"), 0, 0)
	id := "../../escape"
	appendMsgs(t, s, id, msg(1))

	entries, err := os.ReadDir(filepath.Join(dir, "sessions"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || strings.Contains(entries[0].Name(), "escape") {
		t.Fatalf("session files = %v", entries)
	}
	if _, err := os.Stat(filepath.Join(dir, "..", "escape.yaml")); err == nil {
		t.Error("session written outside its directory")
	}
	if h := history(t, NewSessionStore(filepath.Join(dir, "sessions"), 0, 0), id); len(h) != 1 {
		t.Errorf("history = %+v", h)
	}
}

func TestSessionEvictionRemovesFile(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir, 0, 1)
	appendMsgs(t, s, "old", msg(1))
	appendMsgs(t, s, "new", msg(2))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("files = %d, want 1", len(entries))
	}
	if history(t, NewSessionStore(dir, 0, 0), "old") != nil {
		t.Error("evicted session came back from disk")
	}
}

func TestSessionCorruptFileIsReported(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir, 0, 0)
	if err := os.WriteFile(s.path("x"), []byte("messages: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.History("x"); err == nil {
		t.Fatal("expected parse error")
	}
	// Appending starts the session over and replaces the bad file.
	if err := s.Append("x", msg(1)); err == nil {
		t.Error("expected the load error to be reported")
	}
	if h := history(t, NewSessionStore(dir, 0, 0), "x"); len(h) != 1 {
		t.Errorf("history = %+v", h)
	}
}
