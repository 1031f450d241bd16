package command

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/model"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/scheduler"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/service"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/store"
	"github.com/871311823/chatgpt-on-wechat-panghu/internal/timeparse"
)

const helpText = `📝 Todo commands:

Create:              #todo buy milk tomorrow 15:00
Exact time:          #todo buy milk /at 2025-01-20 09:00
Repeating:           #todo drink water /at 2025-01-20 09:00 /every daily
No reminder:         #todo read a book /noremind
List:                #todo list [pending|done|all]
Complete:            #todo done 1
Delete:              #todo del 1
Restore:             #todo undo 1

💡 After a reminder, reply 1 to complete everything it mentioned.`

var (
	atRe    = regexp.MustCompile(`/at\s+([0-9]{4}[-/][0-9]{2}[-/][0-9]{2}\s+[0-9]{2}:[0-9]{2})`)
	everyRe = regexp.MustCompile(`/every\s+(\S+)`)
	noRemRe = regexp.MustCompile(`(?i)/(noremind|no)\b`)
)

// Handler turns inbound chat messages into todo operations and reply
// text. It owns no state; everything flows through the service, the
// store, and the ack matcher.
type Handler struct {
	svc   *service.Todos
	store store.Store
	acks  *scheduler.AckMatcher
	log   zerolog.Logger
}

// New creates a Handler.
func New(svc *service.Todos, s store.Store, acks *scheduler.AckMatcher, log zerolog.Logger) *Handler {
	return &Handler{
		svc:   svc,
		store: s,
		acks:  acks,
		log:   log.With().Str("component", "command").Logger(),
	}
}

// Handle processes one inbound message. The second return value is
// false when the message is not for us (no #todo prefix and not a
// batch acknowledgement) and should flow to the next handler.
func (h *Handler) Handle(ctx context.Context, chatUserID, nickname, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	user, err := h.store.EnsureUser(ctx, chatUserID, nickname)
	if err != nil {
		h.log.Error().Err(err).Str("chat_user_id", chatUserID).Msg("ensure user failed")
		return "", false
	}

	// Short replies may acknowledge the last reminder batch.
	if !strings.HasPrefix(text, "#todo") {
		return h.tryBatchAck(ctx, user.ID, text)
	}

	rest := strings.TrimSpace(strings.TrimPrefix(text, "#todo"))
	if rest == "" {
		return helpText, true
	}

	verb, arg, _ := strings.Cut(rest, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(verb) {
	case "list", "ls":
		return h.handleList(ctx, user.ID, arg), true
	case "done":
		return h.handleDone(ctx, user.ID, arg), true
	case "del", "rm":
		return h.handleDelete(ctx, user.ID, arg), true
	case "undo":
		return h.handleUndo(ctx, user.ID, arg), true
	case "help":
		return helpText, true
	default:
		return h.handleCreate(ctx, user.ID, rest), true
	}
}

// tryBatchAck offers the reply to the ack matcher. ErrNoMatch means the
// message was not an acknowledgement and is passed on.
func (h *Handler) tryBatchAck(ctx context.Context, userID int64, text string) (string, bool) {
	if h.acks == nil {
		return "", false
	}

	n, err := h.acks.ApplyAck(ctx, userID, text)
	if errors.Is(err, scheduler.ErrNoMatch) {
		return "", false
	}
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("batch ack failed")
		return "⚠️ Could not complete the reminded todos, please try #todo done <id>.", true
	}
	if n == 0 {
		return "", false
	}
	if n == 1 {
		return "✅ Completed 1 reminded todo.", true
	}
	return fmt.Sprintf("✅ Completed %d reminded todos.", n), true
}

func (h *Handler) handleList(ctx context.Context, userID int64, arg string) string {
	status := model.StatusPending
	switch strings.ToLower(arg) {
	case "", "pending":
		// default
	case "done":
		status = model.StatusDone
	case "all":
		status = ""
	default:
		return "Unknown list filter, use: pending, done or all."
	}

	todos, err := h.svc.List(ctx, userID, status, 20)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("list failed")
		return "⚠️ Could not load your todos."
	}
	if len(todos) == 0 {
		return "📋 Nothing here."
	}

	lines := []string{"📋 Your todos:"}
	for _, t := range todos {
		mark := "⏳"
		if t.Status == model.StatusDone {
			mark = "✅"
		}
		line := fmt.Sprintf("%s %d. %s", mark, t.ID, t.Title)
		if t.RemindAt != nil {
			line += " (" + t.RemindAt.Local().Format("01-02 15:04") + ")"
		}
		if t.Repeating() {
			line += " 🔁" + *t.RepeatRule
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) handleDone(ctx context.Context, userID int64, arg string) string {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return "Usage: #todo done <id>"
	}

	res, err := h.svc.Complete(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return "No such todo."
	}
	if err != nil {
		h.log.Error().Err(err).Int64("todo_id", id).Msg("complete failed")
		return "⚠️ Could not complete the todo."
	}

	switch {
	case res.AlreadyDone:
		return "That todo is already completed."
	case res.Rearmed:
		return fmt.Sprintf("✅ Confirmed: %s (next reminder %s)",
			res.Todo.Title, res.NextRemindAt.Local().Format("2006-01-02 15:04"))
	default:
		return "✅ Completed: " + res.Todo.Title
	}
}

func (h *Handler) handleDelete(ctx context.Context, userID int64, arg string) string {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return "Usage: #todo del <id>"
	}
	err = h.svc.Delete(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return "No such todo."
	}
	if err != nil {
		h.log.Error().Err(err).Int64("todo_id", id).Msg("delete failed")
		return "⚠️ Could not delete the todo."
	}
	return "🗑 Deleted."
}

func (h *Handler) handleUndo(ctx context.Context, userID int64, arg string) string {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return "Usage: #todo undo <id>"
	}
	todo, err := h.svc.Undo(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return "No such todo."
	}
	if err != nil {
		return "⚠️ " + err.Error()
	}
	return fmt.Sprintf("↩️ Restored as todo %d: %s", todo.ID, todo.Title)
}

// handleCreate parses the free-form creation syntax: title text with
// optional /at, /every and /noremind directives; anything left after
// stripping directives that looks like a time expression is tried as
// one.
func (h *Handler) handleCreate(ctx context.Context, userID int64, text string) string {
	title, timeExpr, repeatExpr, noRemind := splitDirectives(text)
	if strings.TrimSpace(title) == "" {
		return "The todo text must not be empty."
	}
	if noRemind {
		timeExpr, repeatExpr = "", ""
	} else if timeExpr == "" {
		// No /at directive: try to peel a trailing natural-language
		// time off the title ("buy milk tomorrow 15:00").
		title, timeExpr = extractTrailingTime(title, h.svc)
	}

	todo, err := h.svc.Create(ctx, userID, title, timeExpr, repeatExpr)
	var perr *timeparse.ParseError
	if errors.As(err, &perr) {
		return fmt.Sprintf("⚠️ I could not understand the time %q — nothing was created.", perr.Expr)
	}
	if errors.Is(err, service.ErrRepeatNeedsTime) {
		return "⚠️ A repeating todo needs a time, add /at or a time expression."
	}
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("create failed")
		return "⚠️ Could not create the todo."
	}

	when := "no reminder"
	if todo.RemindAt != nil {
		when = todo.RemindAt.Local().Format("2006-01-02 15:04")
	}
	reply := fmt.Sprintf("📝 Created todo %d: %s (reminder: %s)", todo.ID, todo.Title, when)
	if todo.Repeating() {
		reply += " 🔁" + *todo.RepeatRule
	}
	return reply
}

// splitDirectives strips /at, /every and /noremind from the text and
// returns what is left as the title.
func splitDirectives(text string) (title, timeExpr, repeatExpr string, noRemind bool) {
	if m := atRe.FindStringSubmatch(text); m != nil {
		timeExpr = strings.Join(strings.Fields(m[1]), " ")
		text = strings.Replace(text, m[0], "", 1)
	}
	if m := everyRe.FindStringSubmatch(text); m != nil {
		repeatExpr = m[1]
		text = strings.Replace(text, m[0], "", 1)
	}
	if m := noRemRe.FindStringSubmatch(text); m != nil {
		noRemind = true
		text = strings.Replace(text, m[0], "", 1)
	}
	return strings.TrimSpace(text), timeExpr, repeatExpr, noRemind
}

// extractTrailingTime tries successively longer suffixes of the title
// as a time expression and returns the split that resolves. The whole
// title is never consumed.
func extractTrailingTime(title string, svc *service.Todos) (string, string) {
	words := strings.Fields(title)
	// Longest candidate first so "tomorrow afternoon 3pm" beats "3pm".
	const maxTimeWords = 4
	start := 1
	if len(words)-maxTimeWords > start {
		start = len(words) - maxTimeWords
	}
	for i := start; i < len(words); i++ {
		candidate := strings.Join(words[i:], " ")
		if svc.CanResolve(candidate) {
			return strings.Join(words[:i], " "), candidate
		}
	}
	return title, ""
}
