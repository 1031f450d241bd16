package model

import "time"

// Todo status constants. Transitions are forward-only: a pending todo
// becomes done or deleted, except that completing a repeating todo keeps
// it pending and rolls its reminder forward.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusDeleted = "deleted"
)

// Todo is a user-owned task, optionally carrying a scheduled reminder
// and a recurrence rule.
//
// RemindAt always refers to the next undelivered firing. A nil RemindAt
// means no reminder is scheduled and the row is invisible to the
// scheduler. Reminded flips to true once a notification has been
// dispatched for the current RemindAt and is reset when the reminder is
// rearmed or reconciled after a restart.
type Todo struct {
	ID           int64      `json:"id" db:"id"`
	UserID       int64      `json:"user_id" db:"user_id"`
	Title        string     `json:"title" db:"title"`
	Note         string     `json:"note" db:"note"`
	Status       string     `json:"status" db:"status"`
	RemindAt     *time.Time `json:"remind_at,omitempty" db:"remind_at"`
	RepeatRule   *string    `json:"repeat_rule,omitempty" db:"repeat_rule"`
	Reminded     bool       `json:"reminded" db:"reminded"`
	RemindCount  int        `json:"remind_count" db:"remind_count"`
	LastRemindAt *time.Time `json:"last_remind_at,omitempty" db:"last_remind_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Repeating reports whether the todo carries a recurrence rule.
func (t *Todo) Repeating() bool {
	return t.RepeatRule != nil && *t.RepeatRule != ""
}
