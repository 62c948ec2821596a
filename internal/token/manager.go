package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/how2validate/apiserver/internal/models"
	"github.com/how2validate/apiserver/internal/quota"
	"github.com/how2validate/apiserver/internal/usage"
)

// Manager orchestrates token issuance, rotation, and deletion. It composes
// the issuer, the quota guard, and the usage accumulator over one shared
// database handle.
type Manager struct {
	db     *gorm.DB
	issuer *Issuer
	guard  *quota.Guard
	usage  *usage.Accumulator
}

// NewManager constructs a Manager and its collaborators over the given handle.
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:     db,
		issuer: NewIssuer(db),
		guard:  quota.NewGuard(db),
		usage:  usage.NewAccumulator(db),
	}
}

// Issue generates a fresh secret without persisting anything. The caller
// receives the plaintext exactly once alongside its digest.
func (m *Manager) Issue(ctx context.Context) (plaintext, digest string, err error) {
	if m == nil {
		return "", "", fmt.Errorf("token: not initialized")
	}
	return m.issuer.Issue(ctx)
}

// Create issues a secret, persists its record under the user, and increments
// the user's active token count. Refused with quota.ErrAPIQuotaExceeded when
// the user is at their subscription's active-token limit.
func (m *Manager) Create(ctx context.Context, userID uint64, name, email string) (*models.PersonalAccessToken, string, error) {
	if m == nil || m.db == nil {
		return nil, "", fmt.Errorf("token: not initialized")
	}

	allowed, errCheck := m.guard.UnderAPIThreshold(ctx, userID)
	if errCheck != nil {
		return nil, "", errCheck
	}
	if !allowed {
		return nil, "", quota.ErrAPIQuotaExceeded
	}

	plaintext, digest, errIssue := m.issuer.Issue(ctx)
	if errIssue != nil {
		return nil, "", errIssue
	}

	now := time.Now().UTC()
	row := models.PersonalAccessToken{
		UserID:     userID,
		TokenName:  strings.TrimSpace(name),
		TokenHash:  digest,
		TokenEmail: strings.TrimSpace(email),
		IsActive:   true,
		LastUsedAt: now,
		CreatedAt:  now,
	}
	if errCreate := m.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, "", fmt.Errorf("token: create: %w", errCreate)
	}

	if errInc := m.usage.IncrementActiveTokenCount(ctx, userID); errInc != nil {
		return nil, "", errInc
	}
	return &row, plaintext, nil
}

// RotateOverrides carries optional identity changes applied during rotation.
type RotateOverrides struct {
	Name  *string
	Email *string
}

// Rotate replaces the secret of an existing token in place. The target is
// keyed on its current hash only; the replaced hash is recorded in
// previous_hash so a duplicate rotation request can be matched to the
// already-rotated record. Name and email survive unless overridden. The
// active token count does not change.
func (m *Manager) Rotate(ctx context.Context, userID uint64, currentHash string, overrides RotateOverrides) (*models.PersonalAccessToken, string, error) {
	if m == nil || m.db == nil {
		return nil, "", fmt.Errorf("token: not initialized")
	}

	plaintext, digest, errIssue := m.issuer.Issue(ctx)
	if errIssue != nil {
		return nil, "", errIssue
	}

	updates := map[string]any{
		"token_hash":    digest,
		"previous_hash": currentHash,
	}
	if overrides.Name != nil {
		updates["token_name"] = strings.TrimSpace(*overrides.Name)
	}
	if overrides.Email != nil {
		updates["token_email"] = strings.TrimSpace(*overrides.Email)
	}

	res := m.db.WithContext(ctx).Model(&models.PersonalAccessToken{}).
		Where("user_id = ? AND token_hash = ?", userID, currentHash).
		Updates(updates)
	if res.Error != nil {
		return nil, "", fmt.Errorf("token: rotate: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, "", ErrTokenNotFound
	}

	var row models.PersonalAccessToken
	if errFind := m.db.WithContext(ctx).Where("token_hash = ?", digest).Take(&row).Error; errFind != nil {
		return nil, "", fmt.Errorf("token: rotate reload: %w", errFind)
	}
	return &row, plaintext, nil
}

// UpsertRecord is the client-supplied payload for create-or-update.
type UpsertRecord struct {
	TokenName    string
	TokenHash    string
	PreviousHash string
	TokenEmail   string
	ExpiresAt    *time.Time
}

// Upsert creates or updates a token record keyed by its previous hash (a
// rotation handed to the server) or its current hash. An update replaces the
// identity fields and hash chain but preserves server-side counters; a create
// is quota-gated and increments the user's active token count. Reports
// whether a new record was created.
func (m *Manager) Upsert(ctx context.Context, userID uint64, rec UpsertRecord) (*models.PersonalAccessToken, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, fmt.Errorf("token: not initialized")
	}
	if strings.TrimSpace(rec.TokenHash) == "" {
		return nil, false, fmt.Errorf("token: missing token hash")
	}

	matchHash := rec.PreviousHash
	if strings.TrimSpace(matchHash) == "" {
		matchHash = rec.TokenHash
	}

	var existing models.PersonalAccessToken
	errFind := m.db.WithContext(ctx).
		Where("user_id = ? AND token_hash = ?", userID, matchHash).
		Take(&existing).Error
	switch {
	case errFind == nil:
		updates := map[string]any{
			"token_name":    strings.TrimSpace(rec.TokenName),
			"token_hash":    rec.TokenHash,
			"previous_hash": rec.PreviousHash,
			"token_email":   strings.TrimSpace(rec.TokenEmail),
			"expires_at":    rec.ExpiresAt,
		}
		if errUpdate := m.db.WithContext(ctx).Model(&models.PersonalAccessToken{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error; errUpdate != nil {
			return nil, false, fmt.Errorf("token: upsert update: %w", errUpdate)
		}
		var row models.PersonalAccessToken
		if errReload := m.db.WithContext(ctx).Where("id = ?", existing.ID).Take(&row).Error; errReload != nil {
			return nil, false, fmt.Errorf("token: upsert reload: %w", errReload)
		}
		return &row, false, nil
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		// fall through to create
	default:
		return nil, false, fmt.Errorf("token: upsert lookup: %w", errFind)
	}

	allowed, errCheck := m.guard.UnderAPIThreshold(ctx, userID)
	if errCheck != nil {
		return nil, false, errCheck
	}
	if !allowed {
		return nil, false, quota.ErrAPIQuotaExceeded
	}

	now := time.Now().UTC()
	row := models.PersonalAccessToken{
		UserID:       userID,
		TokenName:    strings.TrimSpace(rec.TokenName),
		TokenHash:    rec.TokenHash,
		PreviousHash: rec.PreviousHash,
		TokenEmail:   strings.TrimSpace(rec.TokenEmail),
		IsActive:     true,
		LastUsedAt:   now,
		CreatedAt:    now,
		ExpiresAt:    rec.ExpiresAt,
	}
	if errCreate := m.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, false, fmt.Errorf("token: upsert create: %w", errCreate)
	}
	if errInc := m.usage.IncrementActiveTokenCount(ctx, userID); errInc != nil {
		return nil, false, errInc
	}
	return &row, true, nil
}

// Delete removes the token matching the hash from the user's ownership. The
// active token count decrements only when a row was actually removed, and
// never below zero.
func (m *Manager) Delete(ctx context.Context, userID uint64, tokenHash string) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("token: not initialized")
	}

	res := m.db.WithContext(ctx).
		Where("user_id = ? AND token_hash = ?", userID, tokenHash).
		Delete(&models.PersonalAccessToken{})
	if res.Error != nil {
		return fmt.Errorf("token: delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return m.usage.DecrementActiveTokenCount(ctx, userID)
}

// List returns the user's tokens in creation order.
func (m *Manager) List(ctx context.Context, userID uint64) ([]models.PersonalAccessToken, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("token: not initialized")
	}
	var rows []models.PersonalAccessToken
	if errFind := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("token: list: %w", errFind)
	}
	return rows, nil
}
