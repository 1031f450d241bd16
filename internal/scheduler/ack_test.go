package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/model"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/scheduler"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/store"
	"github.com/871311823/chatgpt-on-wechat-panghu/tests/testutil"
)

type ackFixture struct {
	store *store.SQLiteStore
	clock *fakeClock
	acks  *scheduler.AckMatcher
	user  model.User
}

func newAckFixture(t *testing.T) *ackFixture {
	t.Helper()

	s := testutil.NewTestStore(t)
	clock := newFakeClock(start)
	acks := scheduler.NewAckMatcher(s, clock, []string{"1", "done", "OK"}, 10*time.Minute, zerolog.Nop())

	user, err := s.EnsureUser(context.Background(), "chat-7", "")
	require.NoError(t, err)
	return &ackFixture{store: s, clock: clock, acks: acks, user: user}
}

// fireTodo creates a todo and marks it dispatched so it is in the state
// a just-delivered reminder would be in.
func (f *ackFixture) fireTodo(t *testing.T, title, rule string) model.Todo {
	t.Helper()
	remindAt := f.clock.Now()
	todo := model.Todo{UserID: f.user.ID, Title: title, RemindAt: &remindAt}
	if rule != "" {
		todo.RepeatRule = &rule
	}
	created, err := f.store.CreateTodo(context.Background(), todo)
	require.NoError(t, err)
	require.NoError(t, f.store.MarkDispatched(context.Background(), created.ID, f.clock.Now()))
	return created
}

func TestApplyAckCompletesWholeBatch(t *testing.T) {
	t.Parallel()

	f := newAckFixture(t)
	ctx := context.Background()

	a := f.fireTodo(t, "one", "")
	b := f.fireTodo(t, "two", "")
	c := f.fireTodo(t, "three", "daily")
	f.acks.RecordBatch(f.user.ID, []int64{a.ID, b.ID, c.ID}, f.clock.Now())

	n, err := f.acks.ApplyAck(ctx, f.user.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range []int64{a.ID, b.ID} {
		got, err := f.store.GetTodo(ctx, f.user.ID, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDone, got.Status)
	}

	// The repeating member rolls forward instead of completing.
	got, err := f.store.GetTodo(ctx, f.user.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.False(t, got.Reminded)
	assert.True(t, got.RemindAt.Equal(c.RemindAt.AddDate(0, 0, 1)))

	// The batch is consumed: a second "1" matches nothing.
	_, err = f.acks.ApplyAck(ctx, f.user.ID, "1")
	assert.ErrorIs(t, err, scheduler.ErrNoMatch)
}

func TestApplyAckTokenMatching(t *testing.T) {
	t.Parallel()

	f := newAckFixture(t)
	ctx := context.Background()

	for _, reply := range []string{"2", "yes please", "", "#todo list"} {
		_, err := f.acks.ApplyAck(ctx, f.user.ID, reply)
		assert.ErrorIs(t, err, scheduler.ErrNoMatch, "reply %q", reply)
	}

	// Tokens are case-insensitive and whitespace-tolerant.
	todo := f.fireTodo(t, "task", "")
	f.acks.RecordBatch(f.user.ID, []int64{todo.ID}, f.clock.Now())
	n, err := f.acks.ApplyAck(ctx, f.user.ID, "  ok ")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyAckWithoutBatchIsNoMatch(t *testing.T) {
	t.Parallel()

	f := newAckFixture(t)
	_, err := f.acks.ApplyAck(context.Background(), f.user.ID, "1")
	assert.ErrorIs(t, err, scheduler.ErrNoMatch)
}

func TestNewDeliveryReplacesBatch(t *testing.T) {
	t.Parallel()

	f := newAckFixture(t)
	ctx := context.Background()

	old := f.fireTodo(t, "old", "")
	f.acks.RecordBatch(f.user.ID, []int64{old.ID}, f.clock.Now())

	f.clock.Advance(time.Minute)
	fresh := f.fireTodo(t, "fresh", "")
	f.acks.RecordBatch(f.user.ID, []int64{fresh.ID}, f.clock.Now())

	// "1" acknowledges only what the user was shown last.
	n, err := f.acks.ApplyAck(ctx, f.user.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gotOld, err := f.store.GetTodo(ctx, f.user.ID, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, gotOld.Status)

	gotFresh, err := f.store.GetTodo(ctx, f.user.ID, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, gotFresh.Status)
}

func TestExpiredBatchIsNoMatch(t *testing.T) {
	t.Parallel()

	f := newAckFixture(t)
	ctx := context.Background()

	todo := f.fireTodo(t, "stale", "")
	f.acks.RecordBatch(f.user.ID, []int64{todo.ID}, f.clock.Now())

	f.clock.Advance(11 * time.Minute)
	_, err := f.acks.ApplyAck(ctx, f.user.ID, "1")
	assert.ErrorIs(t, err, scheduler.ErrNoMatch)

	got, err := f.store.GetTodo(ctx, f.user.ID, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestApplyAckSkipsVanishedTodos(t *testing.T) {
	t.Parallel()

	f := newAckFixture(t)
	ctx := context.Background()

	kept := f.fireTodo(t, "kept", "")
	gone := f.fireTodo(t, "gone", "")
	f.acks.RecordBatch(f.user.ID, []int64{kept.ID, gone.ID}, f.clock.Now())

	// The user deletes one todo between delivery and acknowledgement.
	require.NoError(t, f.store.Delete(ctx, f.user.ID, gone.ID))

	n, err := f.acks.ApplyAck(ctx, f.user.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetTodo(ctx, f.user.ID, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, got.Status)
}

func TestBatchesAreScopedPerUser(t *testing.T) {
	t.Parallel()

	f := newAckFixture(t)
	ctx := context.Background()

	other, err := f.store.EnsureUser(ctx, "chat-other", "")
	require.NoError(t, err)

	todo := f.fireTodo(t, "mine", "")
	f.acks.RecordBatch(f.user.ID, []int64{todo.ID}, f.clock.Now())

	_, err = f.acks.ApplyAck(ctx, other.ID, "1")
	assert.ErrorIs(t, err, scheduler.ErrNoMatch)

	n, err := f.acks.ApplyAck(ctx, f.user.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
