package command_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/command"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/model"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/scheduler"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/service"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/store"
	"github.com/871311823/chatgpt-on-wechat-panghu/tests/testutil"
)

// Friday morning reference so relative times resolve the same way on
// every run.
var handlerNow = time.Date(2025, 1, 10, 10, 0, 0, 0, time.Local)

type handlerFixture struct {
	handler *command.Handler
	store   *store.SQLiteStore
	acks    *scheduler.AckMatcher
}

type stillClock struct{ t time.Time }

func (c stillClock) Now() time.Time { return c.t }

func newHandler(t *testing.T) *handlerFixture {
	t.Helper()

	s := testutil.NewTestStore(t)
	svc := service.New(s, func() time.Time { return handlerNow }, zerolog.Nop())
	acks := scheduler.NewAckMatcher(s, stillClock{handlerNow}, []string{"1", "done"}, 10*time.Minute, zerolog.Nop())
	return &handlerFixture{
		handler: command.New(svc, s, acks, zerolog.Nop()),
		store:   s,
		acks:    acks,
	}
}

func (f *handlerFixture) handle(t *testing.T, text string) (string, bool) {
	t.Helper()
	return f.handler.Handle(context.Background(), "chat-cmd", "Tester", text)
}

func (f *handlerFixture) userID(t *testing.T) int64 {
	t.Helper()
	user, err := f.store.EnsureUser(context.Background(), "chat-cmd", "Tester")
	require.NoError(t, err)
	return user.ID
}

func TestHandleIgnoresUnrelatedMessages(t *testing.T) {
	t.Parallel()

	f := newHandler(t)
	for _, text := range []string{"hello there", "1", "", "how is the weather"} {
		reply, handled := f.handle(t, text)
		assert.False(t, handled, "text %q", text)
		assert.Empty(t, reply)
	}
}

func TestHandleCreateWithTrailingTime(t *testing.T) {
	t.Parallel()

	f := newHandler(t)
	reply, handled := f.handle(t, "#todo buy milk tomorrow 15:00")
	require.True(t, handled)
	assert.Contains(t, reply, "buy milk")
	assert.Contains(t, reply, "2025-01-11 15:00")

	todos, err := f.store.ListTodos(context.Background(), f.userID(t), "", 0)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, "buy milk", todos[0].Title)
	require.NotNil(t, todos[0].RemindAt)
}

func TestHandleCreateWithDirectives(t *testing.T) {
	t.Parallel()

	f := newHandler(t)
	reply, handled := f.handle(t, "#todo drink water /at 2025-01-20 09:00 /every daily")
	require.True(t, handled)
	assert.Contains(t, reply, "drink water")
	assert.Contains(t, reply, "2025-01-20 09:00")
	assert.Contains(t, reply, "daily")

	todos, err := f.store.ListTodos(context.Background(), f.userID(t), "", 0)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.True(t, todos[0].Repeating())
}

func TestHandleCreateNoRemind(t *testing.T) {
	t.Parallel()

	f := newHandler(t)
	reply, handled := f.handle(t, "#todo read a book tomorrow /noremind")
	require.True(t, handled)
	assert.Contains(t, reply, "no reminder")

	todos, err := f.store.ListTodos(context.Background(), f.userID(t), "", 0)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Nil(t, todos[0].RemindAt)
	// "tomorrow" stays in the title when reminders are suppressed.
	assert.Contains(t, todos[0].Title, "tomorrow")
}

func TestHandleCreateKeepsWholeTitleWhenNoTimeParses(t *testing.T) {
	t.Parallel()

	f := newHandler(t)
	_, handled := f.handle(t, "#todo call the plumber about the sink")
	require.True(t, handled)

	todos, err := f.store.ListTodos(context.Background(), f.userID(t), "", 0)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, "call the plumber about the sink", todos[0].Title)
	assert.Nil(t, todos[0].RemindAt)
}

func TestHandleListDoneDeleteUndo(t *testing.T) {
	t.Parallel()

	f := newHandler(t)
	ctx := context.Background()

	f.handle(t, "#todo first task tomorrow 09:00")
	f.handle(t, "#todo second task")

	reply, handled := f.handle(t, "#todo list")
	require.True(t, handled)
	assert.Contains(t, reply, "first task")
	assert.Contains(t, reply, "second task")

	todos, err := f.store.ListTodos(ctx, f.userID(t), "", 0)
	require.NoError(t, err)
	require.Len(t, todos, 2)
	firstID := todos[0].ID

	reply, _ = f.handle(t, "#todo done "+itoa(firstID))
	assert.Contains(t, reply, "Completed")

	reply, _ = f.handle(t, "#todo list")
	assert.NotContains(t, reply, "first task")

	reply, _ = f.handle(t, "#todo list done")
	assert.Contains(t, reply, "first task")

	reply, _ = f.handle(t, "#todo undo "+itoa(firstID))
	assert.Contains(t, reply, "Restored")

	reply, _ = f.handle(t, "#todo del "+itoa(todos[1].ID))
	assert.Contains(t, reply, "Deleted")

	reply, _ = f.handle(t, "#todo done 9999")
	assert.Equal(t, "No such todo.", reply)

	reply, _ = f.handle(t, "#todo done notanumber")
	assert.Contains(t, reply, "Usage")
}

func TestHandleHelp(t *testing.T) {
	t.Parallel()

	f := newHandler(t)
	for _, text := range []string{"#todo", "#todo help"} {
		reply, handled := f.handle(t, text)
		require.True(t, handled)
		assert.Contains(t, reply, "#todo done")
	}
}

func TestHandleBadTimeCreatesNothing(t *testing.T) {
	t.Parallel()

	f := newHandler(t)
	reply, handled := f.handle(t, "#todo pay bills /at 2025-02-30 09:00")
	require.True(t, handled)
	assert.Contains(t, reply, "could not understand the time")

	todos, err := f.store.ListTodos(context.Background(), f.userID(t), "", 0)
	require.NoError(t, err)
	assert.Empty(t, todos)
}

func TestHandleBatchAck(t *testing.T) {
	t.Parallel()

	f := newHandler(t)
	ctx := context.Background()
	userID := f.userID(t)

	remindAt := handlerNow.Add(-time.Minute)
	todo, err := f.store.CreateTodo(ctx, model.Todo{UserID: userID, Title: "reminded", RemindAt: &remindAt})
	require.NoError(t, err)
	require.NoError(t, f.store.MarkDispatched(ctx, todo.ID, handlerNow))
	f.acks.RecordBatch(userID, []int64{todo.ID}, handlerNow)

	reply, handled := f.handle(t, "1")
	require.True(t, handled)
	assert.Contains(t, reply, "Completed 1")

	got, err := f.store.GetTodo(ctx, userID, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, got.Status)

	// The batch is spent; the same reply now flows through.
	_, handled = f.handle(t, "1")
	assert.False(t, handled)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
