package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/recur"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/store"
)

// Options tunes the scheduler loop.
type Options struct {
	// TickInterval is the scan cadence. Defaults to one minute.
	TickInterval time.Duration

	// ReremindInterval is the wait before re-dispatching an
	// unacknowledged, non-repeating reminder. Defaults to ten minutes.
	ReremindInterval time.Duration

	// MaxRemindCount caps dispatches per reminder cycle. Defaults to 3.
	MaxRemindCount int

	// Clock defaults to the system clock.
	Clock Clock
}

// Scheduler periodically scans the store for due reminders, dispatches
// them through the Notifier, and rolls repeating reminders forward.
// Every per-row failure is logged and skipped; nothing here is fatal to
// the process.
type Scheduler struct {
	store    store.Store
	notifier Notifier
	acks     *AckMatcher
	clock    Clock
	opts     Options
	log      zerolog.Logger
}

// New creates a Scheduler. The AckMatcher may be nil when batch
// acknowledgement is not wired up (e.g. one-shot tools).
func New(s store.Store, n Notifier, acks *AckMatcher, opts Options, log zerolog.Logger) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.ReremindInterval <= 0 {
		opts.ReremindInterval = 10 * time.Minute
	}
	if opts.MaxRemindCount <= 0 {
		opts.MaxRemindCount = 3
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}

	return &Scheduler{
		store:    s,
		notifier: n,
		acks:     acks,
		clock:    opts.Clock,
		opts:     opts,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Run reconciles state left over from a previous process, then ticks
// until ctx is cancelled. A slow tick delays the next one; it never
// overlaps or corrupts state.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		// Reconciliation failing means the store is down; the rows it
		// would fix are retried on the next start, and the due scan
		// still guarantees nothing armed is lost.
		s.log.Error().Err(err).Msg("startup reconciliation failed")
	}

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Reconcile resets reminders stuck in the fired state from before a
// restart: reminded and remind_count go back to zero while remind_at is
// kept, so the next due scan redelivers them. Idempotent; running it
// twice changes nothing the second time. The possible duplicate
// notification is deliberate: a duplicate is recoverable, a lost
// reminder is not.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	now := s.clock.Now()
	nonRepeat, repeat, err := s.store.ResetForReconciliation(ctx, now)
	if err != nil {
		return fmt.Errorf("resetting stale reminders: %w", err)
	}
	if nonRepeat+repeat > 0 {
		s.log.Info().
			Int64("non_repeat", nonRepeat).
			Int64("repeat", repeat).
			Msg("reset stale reminder state from previous run")
	}
	return nil
}

// Tick runs one full scan-dispatch-update cycle. Exported so tests and
// the command layer can drive the scheduler with a fake clock.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()

	s.rearmRepeating(ctx, now)

	delivered := make(map[int64][]int64)

	due, err := s.store.FindDue(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("due scan failed")
	} else {
		s.dispatch(ctx, due, now, delivered)
	}

	again, err := s.store.FindReremind(ctx, now, s.opts.ReremindInterval, s.opts.MaxRemindCount)
	if err != nil {
		s.log.Error().Err(err).Msg("re-remind scan failed")
	} else {
		s.dispatch(ctx, again, now, delivered)
	}

	if s.acks != nil {
		for userID, ids := range delivered {
			s.acks.RecordBatch(userID, ids, now)
		}
	}
}

// dispatch sends each reminder and marks it dispatched. A notify
// failure leaves the row unchanged for a natural retry next tick; a
// store failure after delivery is logged and the row is retried too,
// trading a duplicate for never losing the reminder.
func (s *Scheduler) dispatch(ctx context.Context, due []store.DueReminder, now time.Time, delivered map[int64][]int64) {
	for _, d := range due {
		text := formatReminder(d)

		if err := s.notifier.Notify(ctx, d.ChatUserID, text); err != nil {
			s.log.Warn().Err(err).
				Int64("todo_id", d.Todo.ID).
				Msg("notify failed, will retry next tick")
			continue
		}

		if err := s.store.MarkDispatched(ctx, d.Todo.ID, now); err != nil {
			s.log.Error().Err(err).
				Int64("todo_id", d.Todo.ID).
				Msg("marking dispatched failed")
			continue
		}

		delivered[d.Todo.UserID] = append(delivered[d.Todo.UserID], d.Todo.ID)
		s.log.Info().
			Int64("todo_id", d.Todo.ID).
			Str("title", d.Todo.Title).
			Msg("reminder sent")
	}
}

// rearmRepeating rolls repeating reminders that fired on an earlier
// tick forward to their next occurrence, whether or not the user ever
// acknowledged them. Occurrences missed during downtime collapse into
// the single next future one.
func (s *Scheduler) rearmRepeating(ctx context.Context, now time.Time) {
	fired, err := s.store.FindRepeatingFired(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("repeating-fired scan failed")
		return
	}

	for _, t := range fired {
		rule, err := recur.ParseRule(*t.RepeatRule)
		if err != nil {
			s.log.Error().Err(err).Int64("todo_id", t.ID).Msg("stored repeat rule is invalid")
			continue
		}
		next := rule.NextAfter(*t.RemindAt, now)
		if err := s.store.Reschedule(ctx, t.ID, next, now); err != nil {
			s.log.Error().Err(err).Int64("todo_id", t.ID).Msg("rearm failed")
			continue
		}
		s.log.Info().
			Int64("todo_id", t.ID).
			Time("next", next).
			Msg("repeating reminder rearmed")
	}
}

// formatReminder renders the outgoing notification text.
func formatReminder(d store.DueReminder) string {
	text := "⏰ Reminder: " + d.Todo.Title
	if d.Todo.RemindAt != nil {
		text += "\nScheduled for: " + d.Todo.RemindAt.Local().Format("2006-01-02 15:04")
	}
	text += fmt.Sprintf("\n\n💡 Reply 1 to complete, or #todo done %d", d.Todo.ID)
	return text
}
