package models

import "time"

// Subscription holds the per-user plan limits embedded into User.
type Subscription struct {
	Plan                 string    `gorm:"type:text;not null;default:'Pro-Free'"` // Plan name.
	APIThreshold         int64     `gorm:"not null;default:5"`                    // Max concurrently active tokens.
	EmailPerDayThreshold int64     `gorm:"not null;default:10"`                   // Max email reports per token per day.
	IsBanned             bool      `gorm:"not null;default:false"`                // Ban flag.
	ExpiresAt            time.Time `gorm:"not null"`                              // Subscription expiry.
}

// UserUsage holds the mutable per-user counters embedded into User.
type UserUsage struct {
	ActiveAPICount     int64 `gorm:"not null;default:0"` // Currently active tokens.
	EmailReportedToday int64 `gorm:"not null;default:0"` // Email reports sent today, reset daily.
	TotalEmailReported int64 `gorm:"not null;default:0"` // Email reports sent all-time, never reset.
}

// User represents a signed-in account stored in the database.
// Rows are upserted on first OAuth sign-in, keyed by ExternalID, and are
// never hard-deleted by this service.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ExternalID string `gorm:"type:text;not null;uniqueIndex"` // Stable OAuth subject identifier.
	Username   string `gorm:"type:text;not null"`             // Display name.
	Email      string `gorm:"type:text;not null"`             // Account email address.
	AvatarURL  string `gorm:"type:text"`                      // Avatar image URL.

	Subscription Subscription `gorm:"embedded;embeddedPrefix:subscription_"` // Plan limits.
	Usage        UserUsage    `gorm:"embedded;embeddedPrefix:usage_"`        // Mutable counters.

	IsActive     bool      `gorm:"not null;default:true"`   // Whether the account is usable.
	LastLoggedIn time.Time `gorm:"not null"`                // Last sign-in timestamp.
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	ExpiresAt    time.Time `gorm:"not null"`                // Account expiry.
}
