// Package history is the append-only log of top-level dispatches and
// workflow runs.
package history

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxResultRunes is the length kept from a result before "..." is appended.
const MaxResultRunes = 100

type Entry struct {
	ID          string    `json:"id" yaml:"id"`
	CommandText string    `json:"command_text" yaml:"command_text"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Result      string    `json:"result" yaml:"result"`
	OK          bool      `json:"ok" yaml:"ok"`
	Code        string    `json:"code,omitempty" yaml:"code,omitempty"`
}

// NewEntry stamps an id and timestamp and truncates result.
func NewEntry(commandText, result string, ok bool, code string) Entry {
	return Entry{
		ID:          uuid.NewString(),
		CommandText: commandText,
		Timestamp:   time.Now().UTC(),
		Result:      Truncate(result),
		OK:          ok,
		Code:        code,
	}
}

// Truncate keeps the first MaxResultRunes runes of s and marks the cut.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxResultRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxResultRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// Sink accepts entries. Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Reader returns the most recent entries, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Log is both a Sink and a Reader.
type Log interface {
	Sink
	Reader
}

// DefaultCapacity bounds the in-memory ring.
const DefaultCapacity = 500

// Ring is an in-memory Log that keeps the last cap entries.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{entries: make([]Entry, capacity)}
}

func (r *Ring) Append(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *Ring) Recent(_ context.Context, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out, nil
}
