package scheduler

import "context"

// Notifier delivers a reminder text to a chat user. It is a capability
// provided by the messaging transport; the scheduler only invokes it.
// A returned error leaves the reminder untouched so the next tick
// retries.
type Notifier interface {
	Notify(ctx context.Context, chatUserID, text string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, chatUserID, text string) error

func (f NotifierFunc) Notify(ctx context.Context, chatUserID, text string) error {
	return f(ctx, chatUserID, text)
}
