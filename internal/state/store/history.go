package store

import (
	"context"
	"fmt"

	"github.com/opentalon/commandcenter/internal/history"
)

// HistoryStore implements history.Log on the history table, keeping at
// most capacity rows (0 keeps everything).
type HistoryStore struct {
	db       *DB
	capacity int
}

func NewHistoryStore(db *DB, capacity int) *HistoryStore {
	return &HistoryStore{db: db, capacity: capacity}
}

var _ history.Log = (*HistoryStore)(nil)

func (s *HistoryStore) Append(ctx context.Context, e history.Entry) error {
	ok := 0
	if e.OK {
		ok = 1
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history append: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.db.rebind(
		`INSERT INTO history (id, command_text, result, ok, code, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		e.ID, e.CommandText, e.Result, ok, e.Code, formatTime(e.Timestamp)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("history append: %w", err)
	}
	if s.capacity > 0 {
		if _, err := tx.ExecContext(ctx, s.db.rebind(
			`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY created_at DESC, id DESC LIMIT ?)`),
			s.capacity); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("history trim: %w", err)
		}
	}
	return tx.Commit()
}

func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	q := `SELECT id, command_text, result, ok, code, created_at FROM history ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("history recent: %w", err)
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var (
			e       history.Entry
			ok      int
			created string
		)
		if err := rows.Scan(&e.ID, &e.CommandText, &e.Result, &ok, &e.Code, &created); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		e.OK = ok != 0
		e.Timestamp = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
