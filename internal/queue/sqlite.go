package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteQueue keeps tasks in the tasks table of a store database. A task is
// claimed by the DELETE that returns it.
type SQLiteQueue struct {
	db  *sql.DB
	ids IDGenerator
}

// NewSQLiteQueue creates a queue on a database opened by store.OpenSQLite.
func NewSQLiteQueue(db *sql.DB, opts ...Option) *SQLiteQueue {
	o := buildOptions(opts)
	return &SQLiteQueue{db: db, ids: o.ids}
}

func (q *SQLiteQueue) Schedule(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("schedule: begin: %w", err)
	}
	defer tx.Rollback()

	for _, t := range assignIDs(q.ids, tasks) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, kind, token, attempt, due_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, t.ID, t.Kind, t.Token, t.Attempt, t.DueAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("schedule task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("schedule: commit: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := q.db.QueryContext(ctx, `
		DELETE FROM tasks
		WHERE id IN (
			SELECT id FROM tasks WHERE due_at <= ? ORDER BY due_at, id LIMIT ?
		)
		RETURNING id, kind, token, attempt, due_at
	`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	defer rows.Close()

	var claimed []Task
	for rows.Next() {
		var (
			t     Task
			dueMs int64
		)
		if err := rows.Scan(&t.ID, &t.Kind, &t.Token, &t.Attempt, &dueMs); err != nil {
			return nil, fmt.Errorf("claim tasks: scan: %w", err)
		}
		t.DueAt = time.UnixMilli(dueMs).UTC()
		claimed = append(claimed, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	// RETURNING order is unspecified.
	sortTasks(claimed)
	return claimed, nil
}

func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}
