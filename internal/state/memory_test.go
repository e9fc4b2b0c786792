package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("")
	if err := store.Put(ctx, "project_alpha", "ships friday", "work"); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "project_alpha")
	if err != nil {
		t.Fatal(err)
	}
	if got != "ships friday" {
		t.Errorf("Get = %q", got)
	}
}

func TestMemoryPutOverwritesKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return t0 }
	_ = store.Put(ctx, "k", "v1", "")
	store.now = func() time.Time { return t0.Add(time.Hour) }
	_ = store.Put(ctx, "k", "v2", "c")

	r, err := store.Record(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != "v2" || r.Category != "c" {
		t.Errorf("record = %+v", r)
	}
	if !r.CreatedAt.Equal(t0) || !r.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("timestamps = %v / %v", r.CreatedAt, r.UpdatedAt)
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	store := NewMemoryStore("")
	_, err := store.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := store.Delete(context.Background(), "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryEmptyKeyRejected(t *testing.T) {
	if err := NewMemoryStore("").Put(context.Background(), "", "v", ""); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestMemoryListSearchCategories(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	store.now = func() time.Time { i++; return base.Add(time.Duration(i) * time.Minute) }

	_ = store.Put(ctx, "lang", "user likes golang", "prefs")
	_ = store.Put(ctx, "theme", "dark mode", "prefs")
	_ = store.Put(ctx, "fact", "Golang is fast", "facts")

	all, _ := store.List(ctx, "")
	if len(all) != 3 || all[0].Key != "fact" {
		t.Errorf("List() = %+v, want newest first", all)
	}
	prefs, _ := store.List(ctx, "prefs")
	if len(prefs) != 2 {
		t.Errorf("List(prefs) len = %d", len(prefs))
	}
	found, _ := store.Search(ctx, "GOLANG")
	if len(found) != 2 {
		t.Errorf("Search len = %d, want 2", len(found))
	}
	cats, _ := store.Categories(ctx)
	if len(cats) != 2 || cats[0] != "facts" || cats[1] != "prefs" {
		t.Errorf("Categories = %v", cats)
	}
}

func TestMemorySaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewMemoryStore(dir)
	_ = store.Put(ctx, "a", "1", "x")
	_ = store.Put(ctx, "b", "2", "")
	if err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewMemoryStore(dir)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, err := loaded.Get(ctx, "a"); err != nil || v != "1" {
		t.Errorf("Get(a) = %q, %v", v, err)
	}
	r, _ := loaded.Record(ctx, "a")
	if r.Category != "x" {
		t.Errorf("Category = %q", r.Category)
	}
}

func TestMemoryLoadMissingFile(t *testing.T) {
	if err := NewMemoryStore(t.TempDir()).Load(); err != nil {
		t.Errorf("Load on empty dir: %v", err)
	}
}
