package models

import (
	"time"
)

// AuthType represents how an account authenticates against its mail server
type AuthType string

const (
	// AuthTypePassword uses a regular password (or app password)
	AuthTypePassword AuthType = "password"
	// AuthTypeOAuth2 uses an OAuth2 access token
	AuthTypeOAuth2 AuthType = "oauth2"
)

// Account represents a connected mail account tracked by the registry
type Account struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Email               string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	DisplayName         string    `gorm:"size:100" json:"display_name"`
	IMAPHost            string    `gorm:"size:255;not null" json:"imap_host"`
	IMAPPort            int       `gorm:"not null" json:"imap_port"`
	Username            string    `gorm:"size:255;not null" json:"username"`
	CredentialEncrypted string    `gorm:"size:500;not null" json:"-"`
	AuthType            AuthType  `gorm:"size:20;default:'password'" json:"auth_type"`
	UseSSL              bool      `gorm:"default:true" json:"use_ssl"`
	SyncEnabled         bool      `gorm:"default:true" json:"sync_enabled"`
	SyncDays            int       `gorm:"default:30" json:"sync_days"` // Window when none given: >0 days back, -1 = everything
	LastSyncedAt        time.Time `json:"last_synced_at"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
