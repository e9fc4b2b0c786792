// Package redisstore keeps records and history in Redis. Records live in a
// single hash as JSON values; history is a capped list, newest at the head.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opentalon/commandcenter/internal/history"
	"github.com/opentalon/commandcenter/internal/state"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "commandcenter"

type Store struct {
	rdb      redis.UniversalClient
	records  string
	history  string
	capacity int64
	now      func() time.Time
}

// Options configures key naming and the history cap (0 keeps everything).
type Options struct {
	Prefix          string
	HistoryCapacity int
}

func New(rdb redis.UniversalClient, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		rdb:      rdb,
		records:  prefix + ":records",
		history:  prefix + ":history",
		capacity: int64(opts.HistoryCapacity),
		now:      time.Now,
	}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

var (
	_ state.KnowledgeStore = (*Store)(nil)
	_ history.Log          = (*Store)(nil)
)

func (s *Store) Put(ctx context.Context, key, value, category string) error {
	if key == "" {
		return fmt.Errorf("put: empty key")
	}
	now := s.now().UTC()
	rec := state.Record{Key: key, Value: value, Category: category, CreatedAt: now, UpdatedAt: now}
	if old, err := s.Record(ctx, key); err == nil {
		rec.CreatedAt = old.CreatedAt
	} else if !errors.Is(err, state.ErrNotFound) {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	if err := s.rdb.HSet(ctx, s.records, key, data).Err(); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	r, err := s.Record(ctx, key)
	if err != nil {
		return "", err
	}
	return r.Value, nil
}

func (s *Store) Record(ctx context.Context, key string) (*state.Record, error) {
	raw, err := s.rdb.HGet(ctx, s.records, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("record %q: %w", key, state.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	var r state.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}
	return &r, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.HDel(ctx, s.records, key).Result()
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("record %q: %w", key, state.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context, category string) ([]state.Record, error) {
	return s.scan(ctx, func(r state.Record) bool {
		return category == "" || r.Category == category
	})
}

func (s *Store) Search(ctx context.Context, term string) ([]state.Record, error) {
	lower := strings.ToLower(term)
	return s.scan(ctx, func(r state.Record) bool {
		return strings.Contains(strings.ToLower(r.Key), lower) ||
			strings.Contains(strings.ToLower(r.Value), lower)
	})
}

func (s *Store) Categories(ctx context.Context) ([]string, error) {
	all, err := s.scan(ctx, func(state.Record) bool { return true })
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range all {
		if r.Category != "" && !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) scan(ctx context.Context, keep func(state.Record) bool) ([]state.Record, error) {
	all, err := s.rdb.HGetAll(ctx, s.records).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var out []state.Record
	for key, raw := range all {
		var r state.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	state.SortNewestFirst(out)
	return out, nil
}

func (s *Store) Append(ctx context.Context, e history.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history append: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.history, data)
		if s.capacity > 0 {
			p.LTrim(ctx, s.history, 0, s.capacity-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("history append: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raws, err := s.rdb.LRange(ctx, s.history, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("history recent: %w", err)
	}
	out := make([]history.Entry, 0, len(raws))
	for _, raw := range raws {
		var e history.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("history decode: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
