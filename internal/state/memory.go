package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const snapshotFile = "records.yaml"

// MemoryStore is an in-process KnowledgeStore. When dir is set, Save and
// Load snapshot it to dir/records.yaml.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	dir     string
	now     func() time.Time
}

func NewMemoryStore(dir string) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		dir:     dir,
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, key, value, category string) error {
	if key == "" {
		return fmt.Errorf("put: empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if r, ok := s.records[key]; ok {
		r.Value = value
		r.Category = category
		r.UpdatedAt = now
		return nil
	}
	s.records[key] = &Record{Key: key, Value: value, Category: category, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	r, err := s.Record(ctx, key)
	if err != nil {
		return "", err
	}
	return r.Value, nil
}

func (s *MemoryStore) Record(_ context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("record %q: %w", key, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("record %q: %w", key, ErrNotFound)
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, category string) ([]Record, error) {
	return s.filter(func(r *Record) bool {
		return category == "" || r.Category == category
	}), nil
}

func (s *MemoryStore) Search(_ context.Context, term string) ([]Record, error) {
	lower := strings.ToLower(term)
	return s.filter(func(r *Record) bool {
		return strings.Contains(strings.ToLower(r.Key), lower) ||
			strings.Contains(strings.ToLower(r.Value), lower)
	}), nil
}

func (s *MemoryStore) Categories(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var out []string
	for _, r := range s.records {
		if r.Category != "" && !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) filter(keep func(*Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders records by UpdatedAt descending, then by key.
func SortNewestFirst(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].UpdatedAt.Equal(rs[j].UpdatedAt) {
			return rs[i].UpdatedAt.After(rs[j].UpdatedAt)
		}
		return rs[i].Key < rs[j].Key
	})
}

func (s *MemoryStore) Save() error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}

	s.mu.RLock()
	list := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		list = append(list, *r)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })

	data, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshaling records: %w", err)
	}
	// Write then rename; readers never see a partial snapshot.
	path := filepath.Join(s.dir, snapshotFile)
	if err := os.WriteFile(path+".tmp", data, 0600); err != nil {
		return fmt.Errorf("writing records: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return fmt.Errorf("writing records: %w", err)
	}
	return nil
}

func (s *MemoryStore) Load() error {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading records: %w", err)
	}

	var list []Record
	if err := yaml.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parsing records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range list {
		r := list[i]
		s.records[r.Key] = &r
	}
	return nil
}
