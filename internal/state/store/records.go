package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opentalon/commandcenter/internal/state"
)

// RecordStore implements state.KnowledgeStore on the records table.
type RecordStore struct {
	db  *DB
	now func() time.Time
}

func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db, now: time.Now}
}

var _ state.KnowledgeStore = (*RecordStore)(nil)

func (s *RecordStore) Put(ctx context.Context, key, value, category string) error {
	if key == "" {
		return fmt.Errorf("put: empty key")
	}
	now := formatTime(s.now())
	_, err := s.db.db.ExecContext(ctx, s.db.rebind(
		`INSERT INTO records (key, value, category, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, category = excluded.category, updated_at = excluded.updated_at`),
		key, value, category, now, now)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, key string) (string, error) {
	r, err := s.Record(ctx, key)
	if err != nil {
		return "", err
	}
	return r.Value, nil
}

func (s *RecordStore) Record(ctx context.Context, key string) (*state.Record, error) {
	row := s.db.db.QueryRowContext(ctx, s.db.rebind(
		`SELECT key, value, category, created_at, updated_at FROM records WHERE key = ?`), key)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %q: %w", key, state.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return &r, nil
}

func (s *RecordStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(`DELETE FROM records WHERE key = ?`), key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %q: %w", key, state.ErrNotFound)
	}
	return nil
}

func (s *RecordStore) List(ctx context.Context, category string) ([]state.Record, error) {
	q := `SELECT key, value, category, created_at, updated_at FROM records`
	var args []any
	if category != "" {
		q += ` WHERE category = ?`
		args = append(args, category)
	}
	q += ` ORDER BY updated_at DESC, key ASC`
	return s.query(ctx, q, args...)
}

// likeEscaper makes LIKE wildcards in a search term match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search matches term as a literal, case-insensitive substring of key or value.
func (s *RecordStore) Search(ctx context.Context, term string) ([]state.Record, error) {
	like := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
	return s.query(ctx, `SELECT key, value, category, created_at, updated_at FROM records
		WHERE LOWER(key) LIKE ? ESCAPE '\' OR LOWER(value) LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC, key ASC`, like, like)
}

func (s *RecordStore) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM records WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("categories: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *RecordStore) query(ctx context.Context, q string, args ...any) ([]state.Record, error) {
	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	var out []state.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (state.Record, error) {
	var r state.Record
	var created, updated string
	if err := sc.Scan(&r.Key, &r.Value, &r.Category, &created, &updated); err != nil {
		return r, err
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}
