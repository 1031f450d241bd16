package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/recur"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/store"
)

// ErrNoMatch reports a reply that is not an acknowledgement. Not an
// error condition: the caller hands the reply back to normal command
// processing.
var ErrNoMatch = errors.New("reply does not acknowledge a reminder batch")

// deliveryBatch is one user's most recent unacknowledged delivery.
type deliveryBatch struct {
	id          uuid.UUID
	todoIDs     []int64
	deliveredAt time.Time
}

// AckMatcher tracks, per user, the most recently delivered and still
// unacknowledged reminder batch, and completes the whole batch on a
// single affirmative reply. Each new delivery replaces the previous
// batch: a stale "1" can never complete reminders the user was not just
// shown.
type AckMatcher struct {
	store  store.Store
	clock  Clock
	tokens map[string]struct{}
	expiry time.Duration
	log    zerolog.Logger

	mu      sync.Mutex
	batches map[int64]*deliveryBatch
}

// NewAckMatcher creates an AckMatcher. tokens is the affirmative reply
// set; expiry bounds how long a delivered batch stays acknowledgeable
// (zero means no timeout, the batch lives until replaced).
func NewAckMatcher(s store.Store, clock Clock, tokens []string, expiry time.Duration, log zerolog.Logger) *AckMatcher {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	if clock == nil {
		clock = SystemClock()
	}

	return &AckMatcher{
		store:   s,
		clock:   clock,
		tokens:  set,
		expiry:  expiry,
		log:     log.With().Str("component", "ack").Logger(),
		batches: make(map[int64]*deliveryBatch),
	}
}

// RecordBatch replaces the user's current batch with the todos
// delivered in this cycle.
func (m *AckMatcher) RecordBatch(userID int64, todoIDs []int64, deliveredAt time.Time) {
	if len(todoIDs) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, len(todoIDs))
	copy(ids, todoIDs)
	m.batches[userID] = &deliveryBatch{
		id:          uuid.New(),
		todoIDs:     ids,
		deliveredAt: deliveredAt,
	}
}

// ApplyAck interprets reply against the user's current batch. An
// affirmative token completes every todo in the batch atomically (done
// for one-shot todos, rolled forward for repeating ones) and clears the
// batch; anything else returns ErrNoMatch untouched.
func (m *AckMatcher) ApplyAck(ctx context.Context, userID int64, reply string) (int, error) {
	if _, ok := m.tokens[strings.ToLower(strings.TrimSpace(reply))]; !ok {
		return 0, ErrNoMatch
	}

	batch := m.takeBatch(userID)
	if batch == nil {
		return 0, ErrNoMatch
	}

	now := m.clock.Now()
	items := make([]store.BatchItem, 0, len(batch.todoIDs))
	for _, id := range batch.todoIDs {
		todo, err := m.store.GetTodo(ctx, userID, id)
		if err != nil {
			m.log.Warn().Err(err).Int64("todo_id", id).Msg("batch todo vanished, skipping")
			continue
		}

		item := store.BatchItem{ID: id}
		if todo.Repeating() && todo.RemindAt != nil {
			rule, err := recur.ParseRule(*todo.RepeatRule)
			if err != nil {
				m.log.Error().Err(err).Int64("todo_id", id).Msg("stored repeat rule is invalid")
				continue
			}
			next := rule.Next(*todo.RemindAt)
			item.NextRemindAt = &next
		}
		items = append(items, item)
	}

	completed, err := m.store.ApplyBatchCompletion(ctx, userID, items, now)
	if err != nil {
		// The batch was already consumed; the user can still complete
		// todos individually.
		return 0, fmt.Errorf("completing reminder batch %s: %w", batch.id, err)
	}

	m.log.Info().
		Int64("user_id", userID).
		Str("batch_id", batch.id.String()).
		Int("completed", completed).
		Msg("reminder batch acknowledged")
	return completed, nil
}

// takeBatch removes and returns the user's current batch, or nil when
// there is none or it has expired.
func (m *AckMatcher) takeBatch(userID int64) *deliveryBatch {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[userID]
	if !ok {
		return nil
	}
	delete(m.batches, userID)

	if m.expiry > 0 && m.clock.Now().Sub(batch.deliveredAt) > m.expiry {
		return nil
	}
	return batch
}
