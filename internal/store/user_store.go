package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/model"
)

// EnsureUser returns the user mapped to a chat conversation id,
// creating it on first contact and keeping the nickname fresh.
func (s *SQLiteStore) EnsureUser(ctx context.Context, chatUserID, nickname string) (model.User, error) {
	var user model.User
	err := s.db.QueryRowxContext(ctx,
		"SELECT id, chat_user_id, nickname, created_at FROM users WHERE chat_user_id = ?",
		chatUserID,
	).Scan(&user.ID, &user.ChatUserID, &user.Nickname, &user.CreatedAt)

	switch {
	case err == nil:
		if nickname != "" && nickname != user.Nickname {
			if _, err := s.db.ExecContext(ctx,
				"UPDATE users SET nickname = ? WHERE id = ?", nickname, user.ID); err != nil {
				return model.User{}, fmt.Errorf("updating nickname for user %d: %w", user.ID, err)
			}
			user.Nickname = nickname
		}
		return user, nil

	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO users (chat_user_id, nickname, created_at) VALUES (?, ?, ?)",
			chatUserID, nickname, now,
		)
		if err != nil {
			return model.User{}, fmt.Errorf("creating user %s: %w", chatUserID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return model.User{}, fmt.Errorf("reading user id: %w", err)
		}
		return model.User{ID: id, ChatUserID: chatUserID, Nickname: nickname, CreatedAt: now}, nil

	default:
		return model.User{}, fmt.Errorf("looking up user %s: %w", chatUserID, err)
	}
}

// GetUser retrieves a user by internal id.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := s.db.QueryRowxContext(ctx,
		"SELECT id, chat_user_id, nickname, created_at FROM users WHERE id = ?", id,
	).Scan(&user.ID, &user.ChatUserID, &user.Nickname, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}
	return &user, nil
}
