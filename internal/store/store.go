package store

import (
	"context"
	"errors"
	"time"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/model"
)

// ErrNotFound is returned when a row does not exist or a guarded
// mutation matched no row in the expected state.
var ErrNotFound = errors.New("todo not found")

// DueReminder pairs a due todo with the chat id the notification must
// be delivered to.
type DueReminder struct {
	Todo       model.Todo
	ChatUserID string
}

// BatchItem describes one todo inside a batch completion. A nil
// NextRemindAt marks the todo done; a non-nil one rearms a repeating
// todo at that time instead.
type BatchItem struct {
	ID           int64
	NextRemindAt *time.Time
}

// Store is the single source of truth for todo and user state. All
// mutations are atomic per row: a state transition either applies in
// full or not at all, guarded by the expected prior state.
type Store interface {
	// Users.
	EnsureUser(ctx context.Context, chatUserID, nickname string) (model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)

	// Todo CRUD.
	CreateTodo(ctx context.Context, todo model.Todo) (model.Todo, error)
	GetTodo(ctx context.Context, userID, id int64) (*model.Todo, error)
	ListTodos(ctx context.Context, userID int64, status string, limit int) ([]model.Todo, error)
	UpdateTitle(ctx context.Context, userID, id int64, title string) error
	UpdateReminder(ctx context.Context, userID, id int64, remindAt *time.Time, repeatRule *string) error
	Delete(ctx context.Context, userID, id int64) error

	// Scheduler scans.
	FindDue(ctx context.Context, now time.Time) ([]DueReminder, error)
	FindReremind(ctx context.Context, now time.Time, interval time.Duration, maxCount int) ([]DueReminder, error)
	FindRepeatingFired(ctx context.Context, now time.Time) ([]model.Todo, error)

	// Guarded state transitions.
	MarkDispatched(ctx context.Context, id int64, now time.Time) error
	Reschedule(ctx context.Context, id int64, next time.Time, now time.Time) error
	Complete(ctx context.Context, userID, id int64, now time.Time) error
	ApplyBatchCompletion(ctx context.Context, userID int64, items []BatchItem, now time.Time) (int, error)

	// Startup reconciliation: reset delivery flags on rows left in the
	// fired state by an abrupt stop, without touching remind_at.
	ResetForReconciliation(ctx context.Context, now time.Time) (nonRepeat, repeat int64, err error)

	Close() error
}
