package quota

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/how2validate/apiserver/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(&models.User{}, &models.PersonalAccessToken{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, apiThreshold, activeCount, emailThreshold int64) models.User {
	t.Helper()
	now := time.Now().UTC()
	user := models.User{
		ExternalID: fmt.Sprintf("gh-%s", t.Name()),
		Username:   "tester",
		Email:      "tester@example.com",
		Subscription: models.Subscription{
			Plan:                 "Pro-Free",
			APIThreshold:         apiThreshold,
			EmailPerDayThreshold: emailThreshold,
			ExpiresAt:            now.AddDate(1, 0, 0),
		},
		Usage:        models.UserUsage{ActiveAPICount: activeCount},
		IsActive:     true,
		LastLoggedIn: now,
		ExpiresAt:    now.AddDate(1, 0, 0),
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestUnderAPIThreshold_Boundary(t *testing.T) {
	db := openTestDB(t)
	guard := NewGuard(db)

	user := seedUser(t, db, 5, 5, 10)
	allowed, err := guard.UnderAPIThreshold(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if allowed {
		t.Fatalf("expected deny at active_api_count == api_threshold")
	}

	if errUpdate := db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("usage_active_api_count", 4).Error; errUpdate != nil {
		t.Fatalf("update count: %v", errUpdate)
	}
	allowed, err = guard.UnderAPIThreshold(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allow at active_api_count == 4")
	}
}

func TestUnderAPIThreshold_MissingUserDenies(t *testing.T) {
	db := openTestDB(t)
	guard := NewGuard(db)

	allowed, err := guard.UnderAPIThreshold(context.Background(), 999)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if allowed {
		t.Fatalf("expected deny for missing user")
	}
}

func TestUnderDailyReportThreshold(t *testing.T) {
	db := openTestDB(t)
	guard := NewGuard(db)
	user := seedUser(t, db, 5, 0, 2)

	now := time.Now().UTC()
	row := models.PersonalAccessToken{
		UserID:     user.ID,
		TokenName:  "t",
		TokenHash:  "hash-1",
		TokenEmail: "t@example.com",
		DayEmail:   1,
		IsActive:   true,
		LastUsedAt: now,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed token: %v", err)
	}

	allowed, err := guard.UnderDailyReportThreshold(context.Background(), user.ID, "hash-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allow at day_email 1 < threshold 2")
	}

	if errUpdate := db.Model(&models.PersonalAccessToken{}).Where("id = ?", row.ID).
		Update("day_email", 2).Error; errUpdate != nil {
		t.Fatalf("update day_email: %v", errUpdate)
	}
	allowed, err = guard.UnderDailyReportThreshold(context.Background(), user.ID, "hash-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if allowed {
		t.Fatalf("expected deny at day_email == threshold")
	}

	allowed, err = guard.UnderDailyReportThreshold(context.Background(), user.ID, "missing-hash")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if allowed {
		t.Fatalf("expected deny for missing token")
	}
}
