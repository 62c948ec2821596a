package quota

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/how2validate/apiserver/internal/models"
)

// ErrAPIQuotaExceeded indicates the user already has as many active tokens as
// their subscription allows.
var ErrAPIQuotaExceeded = errors.New("quota: active token limit reached")

// ErrDailyReportQuotaExceeded indicates the token reached its daily email
// report limit.
var ErrDailyReportQuotaExceeded = errors.New("quota: daily report limit reached for this token")

// Guard evaluates subscription thresholds against current persisted counters.
// All checks are read-only; callers perform the gated mutation separately, so
// concurrent requests racing the check window can transiently exceed a
// threshold by a small margin.
type Guard struct {
	db *gorm.DB
}

// NewGuard constructs a Guard backed by GORM.
func NewGuard(db *gorm.DB) *Guard {
	return &Guard{db: db}
}

// UnderAPIThreshold reports whether the user may activate another token.
// A missing user denies.
func (g *Guard) UnderAPIThreshold(ctx context.Context, userID uint64) (bool, error) {
	if g == nil || g.db == nil {
		return false, fmt.Errorf("quota: not initialized")
	}

	var user models.User
	errFind := g.db.WithContext(ctx).
		Select("usage_active_api_count", "subscription_api_threshold").
		Where("id = ?", userID).
		Take(&user).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("quota: load user: %w", errFind)
	}

	return user.Usage.ActiveAPICount < user.Subscription.APIThreshold, nil
}

// UnderDailyReportThreshold reports whether the token may send another email
// report today. A missing user or token denies.
func (g *Guard) UnderDailyReportThreshold(ctx context.Context, userID uint64, tokenHash string) (bool, error) {
	if g == nil || g.db == nil {
		return false, fmt.Errorf("quota: not initialized")
	}

	var user models.User
	errFindUser := g.db.WithContext(ctx).
		Select("subscription_email_per_day_threshold").
		Where("id = ?", userID).
		Take(&user).Error
	if errFindUser != nil {
		if errors.Is(errFindUser, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("quota: load user: %w", errFindUser)
	}

	var token models.PersonalAccessToken
	errFindToken := g.db.WithContext(ctx).
		Select("day_email").
		Where("user_id = ? AND token_hash = ?", userID, tokenHash).
		Take(&token).Error
	if errFindToken != nil {
		if errors.Is(errFindToken, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("quota: load token: %w", errFindToken)
	}

	return token.DayEmail < user.Subscription.EmailPerDayThreshold, nil
}
