package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/model"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/recur"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/store"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/timeparse"
)

// maxTitleLen matches the column width todo titles are truncated to.
const maxTitleLen = 128

// ErrRepeatNeedsTime rejects a repeat rule on a todo with no reminder
// time to repeat from.
var ErrRepeatNeedsTime = errors.New("a repeating todo needs a reminder time")

// Todos is the command-layer application service: it resolves time and
// repeat expressions and drives the store. All authoritative state
// stays in the store.
type Todos struct {
	store store.Store
	now   func() time.Time
	log   zerolog.Logger
}

// New creates the service. now is injected so creation-time resolution
// is deterministic in tests.
func New(s store.Store, now func() time.Time, log zerolog.Logger) *Todos {
	if now == nil {
		now = time.Now
	}
	return &Todos{
		store: s,
		now:   now,
		log:   log.With().Str("component", "todos").Logger(),
	}
}

// Create resolves the optional time and repeat expressions and inserts
// a new pending todo. A time expression that cannot be resolved returns
// the *timeparse.ParseError unwrapped and creates nothing.
func (t *Todos) Create(ctx context.Context, userID int64, title, timeExpr, repeatExpr string) (model.Todo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Todo{}, fmt.Errorf("todo title must not be empty")
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}

	todo := model.Todo{
		UserID: userID,
		Title:  title,
		Status: model.StatusPending,
	}

	if timeExpr != "" {
		remindAt, err := timeparse.Resolve(timeExpr, t.now())
		if err != nil {
			return model.Todo{}, err
		}
		todo.RemindAt = &remindAt
	}

	if repeatExpr != "" {
		rule, err := recur.ParseRule(repeatExpr)
		if err != nil {
			return model.Todo{}, err
		}
		if todo.RemindAt == nil {
			return model.Todo{}, ErrRepeatNeedsTime
		}
		s := string(rule)
		todo.RepeatRule = &s
	}

	created, err := t.store.CreateTodo(ctx, todo)
	if err != nil {
		return model.Todo{}, err
	}

	t.log.Info().
		Int64("todo_id", created.ID).
		Int64("user_id", userID).
		Msg("todo created")
	return created, nil
}

// CanResolve reports whether expr parses as a time expression at the
// current reference time.
func (t *Todos) CanResolve(expr string) bool {
	_, err := timeparse.Resolve(expr, t.now())
	return err == nil
}

// CompleteResult describes what completing a todo did.
type CompleteResult struct {
	Todo model.Todo

	// Rearmed is true for repeating todos: the todo stays pending and
	// NextRemindAt carries its next occurrence.
	Rearmed      bool
	NextRemindAt *time.Time

	// AlreadyDone is true when the todo had been completed before.
	AlreadyDone bool
}

// Complete finishes a todo. One-shot todos become done; repeating ones
// are rolled forward to their next occurrence and stay pending, unless
// the user deletes them explicitly.
func (t *Todos) Complete(ctx context.Context, userID, id int64) (CompleteResult, error) {
	todo, err := t.store.GetTodo(ctx, userID, id)
	if err != nil {
		return CompleteResult{}, err
	}

	res := CompleteResult{Todo: *todo}
	switch todo.Status {
	case model.StatusDone:
		res.AlreadyDone = true
		return res, nil
	case model.StatusDeleted:
		return CompleteResult{}, store.ErrNotFound
	}

	now := t.now()

	if todo.Repeating() && todo.RemindAt != nil {
		rule, err := recur.ParseRule(*todo.RepeatRule)
		if err != nil {
			return CompleteResult{}, fmt.Errorf("todo %d has invalid repeat rule: %w", id, err)
		}
		next := rule.Next(*todo.RemindAt)
		if err := t.store.Reschedule(ctx, id, next, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Not fired yet (or already rearmed): confirming is
				// still a success, the reminder is simply armed.
				res.Rearmed = true
				res.NextRemindAt = todo.RemindAt
				return res, nil
			}
			return CompleteResult{}, err
		}
		res.Rearmed = true
		res.NextRemindAt = &next
		return res, nil
	}

	if err := t.store.Complete(ctx, userID, id, now); err != nil {
		return CompleteResult{}, err
	}
	return res, nil
}

// Delete soft-deletes a todo; terminal for repeating todos too.
func (t *Todos) Delete(ctx context.Context, userID, id int64) error {
	return t.store.Delete(ctx, userID, id)
}

// Undo recreates a completed todo as a fresh pending one with a new id
// and creation time; the done row is retired.
func (t *Todos) Undo(ctx context.Context, userID, id int64) (model.Todo, error) {
	todo, err := t.store.GetTodo(ctx, userID, id)
	if err != nil {
		return model.Todo{}, err
	}
	if todo.Status != model.StatusDone {
		return model.Todo{}, fmt.Errorf("todo %d is not completed", id)
	}

	if err := t.store.Delete(ctx, userID, id); err != nil {
		return model.Todo{}, err
	}

	return t.store.CreateTodo(ctx, model.Todo{
		UserID:     userID,
		Title:      todo.Title,
		Note:       todo.Note,
		Status:     model.StatusPending,
		RemindAt:   todo.RemindAt,
		RepeatRule: todo.RepeatRule,
	})
}

// List returns a user's todos ordered by remind_at then created_at.
// status may be empty (everything except deleted), "pending", or
// "done".
func (t *Todos) List(ctx context.Context, userID int64, status string, limit int) ([]model.Todo, error) {
	return t.store.ListTodos(ctx, userID, status, limit)
}

// Rename changes a todo's title.
func (t *Todos) Rename(ctx context.Context, userID, id int64, title string) error {
	title = strings.TrimSpace(title)
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	return t.store.UpdateTitle(ctx, userID, id, title)
}

// Reschedule re-resolves a todo's reminder from a new time expression,
// resetting the delivery state. An empty expression clears the
// reminder (and any repeat rule with it).
func (t *Todos) Reschedule(ctx context.Context, userID, id int64, timeExpr, repeatExpr string) error {
	var remindAt *time.Time
	if timeExpr != "" {
		resolved, err := timeparse.Resolve(timeExpr, t.now())
		if err != nil {
			return err
		}
		remindAt = &resolved
	}

	var repeatRule *string
	if repeatExpr != "" {
		rule, err := recur.ParseRule(repeatExpr)
		if err != nil {
			return err
		}
		if remindAt == nil {
			return ErrRepeatNeedsTime
		}
		s := string(rule)
		repeatRule = &s
	}

	return t.store.UpdateReminder(ctx, userID, id, remindAt, repeatRule)
}
