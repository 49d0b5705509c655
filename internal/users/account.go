package users

import (
	"strings"
	"time"
)

// Account is a registered user with a bcrypt password hash.
type Account struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:user_email;size:320;not null;uniqueIndex"`
	DisplayName  string    `gorm:"column:user_display_name;size:320"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "user_accounts"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
