package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/opentalon/commandcenter/internal/history"
	"github.com/opentalon/commandcenter/internal/state"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Options{Prefix: "test", HistoryCapacity: capacity})
}

func TestPutGetKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }
	if err := s.Put(ctx, "k", "v1", "c"); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return t0.Add(time.Minute) }
	if err := s.Put(ctx, "k", "v2", "c"); err != nil {
		t.Fatal(err)
	}
	r, err := s.Record(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != "v2" || !r.CreatedAt.Equal(t0) || !r.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("record = %+v", r)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("Get err = %v", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("Delete err = %v", err)
	}
}

func TestBrowse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)
	_ = s.Put(ctx, "a", "golang rocks", "x")
	_ = s.Put(ctx, "b", "rust", "y")
	_ = s.Put(ctx, "c", "Go modules", "x")

	xs, err := s.List(ctx, "x")
	if err != nil || len(xs) != 2 {
		t.Errorf("List(x) = %v, %v", xs, err)
	}
	found, _ := s.Search(ctx, "GO")
	if len(found) != 2 {
		t.Errorf("Search len = %d", len(found))
	}
	cats, _ := s.Categories(ctx)
	if len(cats) != 2 || cats[0] != "x" || cats[1] != "y" {
		t.Errorf("Categories = %v", cats)
	}
}

func TestHistoryCap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)
	for i := 0; i < 4; i++ {
		if err := s.Append(ctx, history.Entry{ID: fmt.Sprint(i), CommandText: fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].CommandText != "c3" || got[1].CommandText != "c2" {
		t.Errorf("Recent = %+v", got)
	}
	one, _ := s.Recent(ctx, 1)
	if len(one) != 1 || one[0].CommandText != "c3" {
		t.Errorf("Recent(1) = %+v", one)
	}
}
