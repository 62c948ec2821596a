package models

import (
	"time"

	"gorm.io/datatypes"
)

// ValidationRecord is an audit row written for each secret validation
// dispatched through the validator handler. Raw upstream responses are kept
// server-side only.
type ValidationRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID  *uint64 `gorm:"index"` // Requesting user, when known.
	TokenID *uint64 `gorm:"index"` // Bearer token used, when known.

	Provider string `gorm:"type:text;not null"`       // Provider display name.
	Service  string `gorm:"type:text;not null;index"` // Service identifier.
	State    string `gorm:"type:text;not null"`       // Active, InActive or Error.

	RawResponse datatypes.JSON `gorm:"type:jsonb"` // Upstream response body, if captured.
	Reported    bool           `gorm:"not null;default:false"` // Whether an email report was requested.

	RequestedAt time.Time `gorm:"not null;index"`          // Validation time.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Row creation time.
}
