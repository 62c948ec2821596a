package usage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/how2validate/apiserver/internal/models"
)

// Accumulator applies counter adjustments to tokens and users. Every
// operation is a single conditional UPDATE with SQL increment expressions so
// concurrent requests against the same row stay correct without a
// read-modify-write round trip.
type Accumulator struct {
	db *gorm.DB
}

// NewAccumulator constructs an Accumulator backed by GORM.
func NewAccumulator(db *gorm.DB) *Accumulator {
	return &Accumulator{db: db}
}

// IncrementAPIUsage adds one API call to the token's counters.
func (a *Accumulator) IncrementAPIUsage(ctx context.Context, userID uint64, tokenHash string) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("usage: not initialized")
	}
	res := a.db.WithContext(ctx).Model(&models.PersonalAccessToken{}).
		Where("user_id = ? AND token_hash = ?", userID, tokenHash).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count + 1"),
			"day_api":     gorm.Expr("day_api + 1"),
			"total_api":   gorm.Expr("total_api + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("usage: increment api usage: %w", res.Error)
	}
	return nil
}

// IncrementReportUsage adds one email report to the token's counters and
// refreshes its last-used timestamp.
func (a *Accumulator) IncrementReportUsage(ctx context.Context, userID uint64, tokenHash string) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("usage: not initialized")
	}
	res := a.db.WithContext(ctx).Model(&models.PersonalAccessToken{}).
		Where("user_id = ? AND token_hash = ?", userID, tokenHash).
		Updates(map[string]any{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"day_email":    gorm.Expr("day_email + 1"),
			"total_email":  gorm.Expr("total_email + 1"),
			"last_used_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("usage: increment report usage: %w", res.Error)
	}
	return nil
}

// TouchLastUsed sets the token's last-used timestamp to now.
func (a *Accumulator) TouchLastUsed(ctx context.Context, userID uint64, tokenHash string) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("usage: not initialized")
	}
	res := a.db.WithContext(ctx).Model(&models.PersonalAccessToken{}).
		Where("user_id = ? AND token_hash = ?", userID, tokenHash).
		Update("last_used_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("usage: touch last used: %w", res.Error)
	}
	return nil
}

// IncrementActiveTokenCount adds one to the user's active token count.
func (a *Accumulator) IncrementActiveTokenCount(ctx context.Context, userID uint64) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("usage: not initialized")
	}
	res := a.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("usage_active_api_count", gorm.Expr("usage_active_api_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("usage: increment active count: %w", res.Error)
	}
	return nil
}

// DecrementActiveTokenCount subtracts one from the user's active token count,
// floored at zero.
func (a *Accumulator) DecrementActiveTokenCount(ctx context.Context, userID uint64) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("usage: not initialized")
	}
	res := a.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND usage_active_api_count > 0", userID).
		Update("usage_active_api_count", gorm.Expr("usage_active_api_count - 1"))
	if res.Error != nil {
		return fmt.Errorf("usage: decrement active count: %w", res.Error)
	}
	return nil
}

// IncrementUserReportingCount adds one email report to the user's daily and
// all-time counters.
func (a *Accumulator) IncrementUserReportingCount(ctx context.Context, userID uint64) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("usage: not initialized")
	}
	res := a.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"usage_email_reported_today": gorm.Expr("usage_email_reported_today + 1"),
			"usage_total_email_reported": gorm.Expr("usage_total_email_reported + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("usage: increment reporting count: %w", res.Error)
	}
	return nil
}

// ResetDailyCounters zeroes every per-day counter across tokens and users.
// Invoked by the external scheduler once per day; all-time totals are never
// touched.
func (a *Accumulator) ResetDailyCounters(ctx context.Context) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("usage: not initialized")
	}
	if errTokens := a.db.WithContext(ctx).Model(&models.PersonalAccessToken{}).
		Where("day_api > 0 OR day_email > 0").
		Updates(map[string]any{"day_api": 0, "day_email": 0}).Error; errTokens != nil {
		return fmt.Errorf("usage: reset token day counters: %w", errTokens)
	}
	if errUsers := a.db.WithContext(ctx).Model(&models.User{}).
		Where("usage_email_reported_today > 0").
		Update("usage_email_reported_today", 0).Error; errUsers != nil {
		return fmt.Errorf("usage: reset user day counters: %w", errUsers)
	}
	return nil
}
