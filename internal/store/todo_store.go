package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/model"
)

// todoColumns lists the todos columns in scan order. repeat_rule is
// named explicitly because older databases gained it through an ALTER
// and SELECT * would put it last.
const todoColumns = `id, user_id, title, note, status, remind_at, repeat_rule,
	reminded, remind_count, last_remind_at, completed_at, created_at, updated_at`

// scanLimit bounds every scheduler scan so a huge backlog cannot stall
// a tick; whatever is left over is picked up on the next interval.
const scanLimit = 50

// CreateTodo inserts a new todo and returns it with its assigned id.
func (s *SQLiteStore) CreateTodo(ctx context.Context, todo model.Todo) (model.Todo, error) {
	if strings.TrimSpace(todo.Title) == "" {
		return model.Todo{}, fmt.Errorf("todo title must not be empty")
	}

	now := time.Now().UTC()
	todo.CreatedAt = now
	todo.UpdatedAt = now
	if todo.Status == "" {
		todo.Status = model.StatusPending
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO todos (
			user_id, title, note, status, remind_at, repeat_rule,
			reminded, remind_count, last_remind_at, completed_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		todo.UserID, todo.Title, todo.Note, todo.Status,
		utcPtr(todo.RemindAt), todo.RepeatRule,
		boolToInt(todo.Reminded), todo.RemindCount,
		utcPtr(todo.LastRemindAt), utcPtr(todo.CompletedAt),
		todo.CreatedAt, todo.UpdatedAt,
	)
	if err != nil {
		return model.Todo{}, fmt.Errorf("creating todo: %w", err)
	}

	todo.ID, err = res.LastInsertId()
	if err != nil {
		return model.Todo{}, fmt.Errorf("reading todo id: %w", err)
	}
	return todo, nil
}

// GetTodo retrieves a single todo scoped to its owner.
func (s *SQLiteStore) GetTodo(ctx context.Context, userID, id int64) (*model.Todo, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+todoColumns+" FROM todos WHERE id = ? AND user_id = ?",
		id, userID,
	)

	todo, err := scanTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting todo %d: %w", id, err)
	}
	return &todo, nil
}

// ListTodos returns a user's todos ordered by remind_at then
// created_at; rows without a reminder sort last. An empty status
// returns everything except soft-deleted rows.
func (s *SQLiteStore) ListTodos(
	ctx context.Context,
	userID int64,
	status string,
	limit int,
) ([]model.Todo, error) {
	query := "SELECT " + todoColumns + " FROM todos WHERE user_id = ?"
	args := []interface{}{userID}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	} else {
		query += " AND status != ?"
		args = append(args, model.StatusDeleted)
	}

	query += " ORDER BY remind_at IS NULL, remind_at ASC, created_at ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying todos: %w", err)
	}
	defer rows.Close()

	var todos []model.Todo
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, todo)
	}
	return todos, rows.Err()
}

// UpdateTitle renames a todo. Deleted rows are not touched.
func (s *SQLiteStore) UpdateTitle(ctx context.Context, userID, id int64, title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("todo title must not be empty")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE todos SET title = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status != ?`,
		title, time.Now().UTC(), id, userID, model.StatusDeleted,
	)
	if err != nil {
		return fmt.Errorf("renaming todo %d: %w", id, err)
	}
	return requireRow(result)
}

// UpdateReminder replaces a todo's reminder schedule. The delivery
// state is reset so the new remind_at is treated as a fresh arming.
func (s *SQLiteStore) UpdateReminder(
	ctx context.Context,
	userID, id int64,
	remindAt *time.Time,
	repeatRule *string,
) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE todos SET
			remind_at = ?, repeat_rule = ?,
			reminded = 0, remind_count = 0, last_remind_at = NULL,
			updated_at = ?
		WHERE id = ? AND user_id = ? AND status != ?`,
		utcPtr(remindAt), repeatRule, time.Now().UTC(),
		id, userID, model.StatusDeleted,
	)
	if err != nil {
		return fmt.Errorf("updating reminder for todo %d: %w", id, err)
	}
	return requireRow(result)
}

// Delete soft-deletes a todo. Terminal: no guard on prior status other
// than not being deleted already.
func (s *SQLiteStore) Delete(ctx context.Context, userID, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE todos SET status = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status != ?`,
		model.StatusDeleted, time.Now().UTC(), id, userID, model.StatusDeleted,
	)
	if err != nil {
		return fmt.Errorf("deleting todo %d: %w", id, err)
	}
	return requireRow(result)
}

// FindDue returns pending, not-yet-reminded todos whose remind_at has
// passed, earliest first, joined with the owner's chat id.
func (s *SQLiteStore) FindDue(ctx context.Context, now time.Time) ([]DueReminder, error) {
	return s.queryDue(ctx, `
		SELECT `+prefixedTodoColumns("t")+`, u.chat_user_id
		FROM todos t JOIN users u ON t.user_id = u.id
		WHERE t.status = ? AND t.reminded = 0
			AND t.remind_at IS NOT NULL AND t.remind_at <= ?
		ORDER BY t.remind_at ASC
		LIMIT ?`,
		model.StatusPending, now.UTC(), scanLimit,
	)
}

// FindReremind returns fired, non-repeating todos whose last dispatch
// is older than interval and which have been reminded fewer than
// maxCount times. Repeating todos are excluded: they get rearmed
// instead of re-nagged.
func (s *SQLiteStore) FindReremind(
	ctx context.Context,
	now time.Time,
	interval time.Duration,
	maxCount int,
) ([]DueReminder, error) {
	cutoff := now.UTC().Add(-interval)
	return s.queryDue(ctx, `
		SELECT `+prefixedTodoColumns("t")+`, u.chat_user_id
		FROM todos t JOIN users u ON t.user_id = u.id
		WHERE t.status = ? AND t.reminded = 1 AND t.repeat_rule IS NULL
			AND t.remind_count < ?
			AND t.last_remind_at IS NOT NULL AND t.last_remind_at <= ?
		ORDER BY t.last_remind_at ASC
		LIMIT ?`,
		model.StatusPending, maxCount, cutoff, scanLimit,
	)
}

// FindRepeatingFired returns repeating todos stuck in the fired state,
// i.e. dispatched but not yet rolled forward to their next occurrence.
func (s *SQLiteStore) FindRepeatingFired(ctx context.Context, now time.Time) ([]model.Todo, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT `+todoColumns+` FROM todos
		WHERE status = ? AND reminded = 1 AND repeat_rule IS NOT NULL
			AND remind_at IS NOT NULL AND remind_at <= ?
		ORDER BY remind_at ASC
		LIMIT ?`,
		model.StatusPending, now.UTC(), scanLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying repeating fired todos: %w", err)
	}
	defer rows.Close()

	var todos []model.Todo
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, todo)
	}
	return todos, rows.Err()
}

// MarkDispatched records a delivered notification: the Armed to Fired
// transition. Guarded on status so a concurrent completion wins.
func (s *SQLiteStore) MarkDispatched(ctx context.Context, id int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE todos SET
			reminded = 1, remind_count = remind_count + 1,
			last_remind_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		now.UTC(), now.UTC(), id, model.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("marking todo %d dispatched: %w", id, err)
	}
	return requireRow(result)
}

// Reschedule rearms a fired todo at its next occurrence: remind_at
// moves forward, the delivery flags reset, last_remind_at stays as
// history. Guarded on the fired state so a double rearm is a no-op
// conflict, not a double advance.
func (s *SQLiteStore) Reschedule(ctx context.Context, id int64, next, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE todos SET
			remind_at = ?, reminded = 0, remind_count = 0, updated_at = ?
		WHERE id = ? AND status = ? AND reminded = 1`,
		next.UTC(), now.UTC(), id, model.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("rescheduling todo %d: %w", id, err)
	}
	return requireRow(result)
}

// Complete marks a pending todo done.
func (s *SQLiteStore) Complete(ctx context.Context, userID, id int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE todos SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		model.StatusDone, now.UTC(), now.UTC(),
		id, userID, model.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("completing todo %d: %w", id, err)
	}
	return requireRow(result)
}

// ApplyBatchCompletion completes a delivered batch in one transaction:
// items without a NextRemindAt become done, the rest are rearmed at it.
// Returns how many rows actually transitioned; rows that raced with
// another path are skipped, not failed.
func (s *SQLiteStore) ApplyBatchCompletion(
	ctx context.Context,
	userID int64,
	items []BatchItem,
	now time.Time,
) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning batch completion: %w", err)
	}
	defer tx.Rollback()

	completed := 0
	for _, item := range items {
		var result sql.Result
		if item.NextRemindAt == nil {
			result, err = tx.ExecContext(ctx, `
				UPDATE todos SET status = ?, completed_at = ?, updated_at = ?
				WHERE id = ? AND user_id = ? AND status = ?`,
				model.StatusDone, now.UTC(), now.UTC(),
				item.ID, userID, model.StatusPending,
			)
		} else {
			result, err = tx.ExecContext(ctx, `
				UPDATE todos SET
					remind_at = ?, reminded = 0, remind_count = 0, updated_at = ?
				WHERE id = ? AND user_id = ? AND status = ? AND reminded = 1`,
				item.NextRemindAt.UTC(), now.UTC(),
				item.ID, userID, model.StatusPending,
			)
		}
		if err != nil {
			return 0, fmt.Errorf("completing todo %d in batch: %w", item.ID, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			completed++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch completion: %w", err)
	}
	return completed, nil
}

// ResetForReconciliation resets every pending todo left in the fired
// state with a past remind_at: reminded and remind_count go back to
// zero and last_remind_at is cleared, while remind_at is untouched so
// the next due scan picks the row up again. Returns the number of
// non-repeating and repeating rows reset, for logging.
func (s *SQLiteStore) ResetForReconciliation(
	ctx context.Context,
	now time.Time,
) (nonRepeat, repeat int64, err error) {
	const reset = `
		UPDATE todos SET reminded = 0, remind_count = 0, last_remind_at = NULL
		WHERE status = ? AND reminded = 1
			AND remind_at IS NOT NULL AND remind_at < ?
			AND repeat_rule IS %s NULL`

	r1, err := s.db.ExecContext(ctx, fmt.Sprintf(reset, ""), model.StatusPending, now.UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("reconciling non-repeating todos: %w", err)
	}
	nonRepeat, _ = r1.RowsAffected()

	r2, err := s.db.ExecContext(ctx, fmt.Sprintf(reset, "NOT"), model.StatusPending, now.UTC())
	if err != nil {
		return nonRepeat, 0, fmt.Errorf("reconciling repeating todos: %w", err)
	}
	repeat, _ = r2.RowsAffected()

	return nonRepeat, repeat, nil
}

// queryDue runs a due-style query that joins todos with their owner's
// chat id.
func (s *SQLiteStore) queryDue(ctx context.Context, query string, args ...interface{}) ([]DueReminder, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying due todos: %w", err)
	}
	defer rows.Close()

	var due []DueReminder
	for rows.Next() {
		d, err := scanDueReminder(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// requireRow converts a zero-row guarded update into ErrNotFound.
func requireRow(result sql.Result) error {
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// prefixedTodoColumns qualifies todoColumns with a table alias for
// joined queries.
func prefixedTodoColumns(alias string) string {
	cols := strings.Split(todoColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// utcPtr normalizes an optional timestamp to UTC for storage.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// scanTodo scans a todo row in todoColumns order.
func scanTodo(row interface{ Scan(dest ...interface{}) error }) (model.Todo, error) {
	var (
		todo         model.Todo
		remindedInt  int
		remindAt     *time.Time
		lastRemindAt *time.Time
		completedAt  *time.Time
	)

	err := row.Scan(
		&todo.ID, &todo.UserID, &todo.Title, &todo.Note, &todo.Status,
		&remindAt, &todo.RepeatRule,
		&remindedInt, &todo.RemindCount, &lastRemindAt, &completedAt,
		&todo.CreatedAt, &todo.UpdatedAt,
	)
	if err != nil {
		return model.Todo{}, err
	}

	todo.Reminded = remindedInt != 0
	todo.RemindAt = remindAt
	todo.LastRemindAt = lastRemindAt
	todo.CompletedAt = completedAt
	return todo, nil
}

// scanDueReminder scans a todo row plus the joined chat_user_id.
func scanDueReminder(rows *sqlx.Rows) (DueReminder, error) {
	var (
		d            DueReminder
		remindedInt  int
		remindAt     *time.Time
		lastRemindAt *time.Time
		completedAt  *time.Time
	)

	err := rows.Scan(
		&d.Todo.ID, &d.Todo.UserID, &d.Todo.Title, &d.Todo.Note, &d.Todo.Status,
		&remindAt, &d.Todo.RepeatRule,
		&remindedInt, &d.Todo.RemindCount, &lastRemindAt, &completedAt,
		&d.Todo.CreatedAt, &d.Todo.UpdatedAt,
		&d.ChatUserID,
	)
	if err != nil {
		return DueReminder{}, fmt.Errorf("scanning due todo row: %w", err)
	}

	d.Todo.Reminded = remindedInt != 0
	d.Todo.RemindAt = remindAt
	d.Todo.LastRemindAt = lastRemindAt
	d.Todo.CompletedAt = completedAt
	return d, nil
}
