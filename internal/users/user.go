package users

import (
	"strings"
	"time"
)

// User captures a linked account holder and any legacy assistant token bound to them.
type User struct {
	UserID            string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email             string    `gorm:"column:user_email;size:320;index"`
	DisplayName       string    `gorm:"column:user_display_name;size:320"`
	PasswordHash      string    `gorm:"column:password_hash;size:128"`
	LegacyAccessToken *string   `gorm:"column:lwa_access_token;size:512;uniqueIndex"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user records.
func (User) TableName() string {
	return "users"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
