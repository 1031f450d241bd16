package model

import "time"

// User maps a chat-channel conversation id to an internal numeric id.
// The chat transport owns authentication; we only keep the reference.
type User struct {
	ID         int64     `json:"id" db:"id"`
	ChatUserID string    `json:"chat_user_id" db:"chat_user_id"`
	Nickname   string    `json:"nickname" db:"nickname"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
