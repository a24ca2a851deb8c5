package domain

import "time"

// User represents a registered directory account. ID is a system-generated
// ULID stored as the Mongo _id; TelegramID is the stable identity assigned by
// Telegram and is the key every lookup and mutation goes through.
type User struct {
	ID               string    `bson:"_id" json:"id"`
	TelegramID       int64     `bson:"tg_user_id" json:"tg_user_id"`
	TelegramUsername string    `bson:"tg_username" json:"tg_username"`
	Name             string    `bson:"name" json:"name"`
	Email            string    `bson:"email" json:"email"`
	Role             Role      `bson:"role" json:"role"`
	IsActive         bool      `bson:"is_active" json:"is_active"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}
