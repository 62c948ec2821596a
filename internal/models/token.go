package models

import "time"

// PersonalAccessToken stores the digest and counters of one issued token.
// The set of rows sharing a UserID forms that user's token ownership record;
// TokenHash is unique across all users, not just within one.
// The plaintext secret is never persisted.
type PersonalAccessToken struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`          // Owning user.
	User   *User  `gorm:"foreignKey:UserID"`       // Owning user record.

	TokenName    string `gorm:"type:text;not null"`             // Display name.
	TokenHash    string `gorm:"type:text;not null;uniqueIndex"` // SHA-256 hex digest of the secret.
	PreviousHash string `gorm:"type:text"`                      // Digest replaced by the last rotation.
	TokenEmail   string `gorm:"type:text;not null"`             // Report notification address.

	UsageCount int64 `gorm:"not null;default:0"` // Total authenticated uses.
	DayAPI     int64 `gorm:"not null;default:0"` // API calls today, reset daily.
	DayEmail   int64 `gorm:"not null;default:0"` // Email reports today, reset daily.
	TotalAPI   int64 `gorm:"not null;default:0"` // API calls all-time, never reset.
	TotalEmail int64 `gorm:"not null;default:0"` // Email reports all-time, never reset.

	IsActive   bool       `gorm:"not null;default:true"`   // Whether the token authenticates.
	LastUsedAt time.Time  `gorm:"not null"`                // Last authenticated use.
	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"` // Issuance timestamp.
	ExpiresAt  *time.Time ``                                // Optional expiry.
}
