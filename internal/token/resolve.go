package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/how2validate/apiserver/internal/models"
)

// ErrTokenNotFound indicates the presented secret does not match any active,
// unexpired token.
var ErrTokenNotFound = errors.New("token: invalid or expired token")

// Identity is the result of resolving a bearer secret: the matched token and
// its owning user.
type Identity struct {
	User  models.User
	Token models.PersonalAccessToken
}

// Resolve maps a plaintext bearer secret to the token record and user that
// own it. Inactive, expired, or unknown secrets yield ErrTokenNotFound.
func (m *Manager) Resolve(ctx context.Context, secret string) (*Identity, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("token: not initialized")
	}

	digest := Digest(secret)

	var row models.PersonalAccessToken
	errFind := m.db.WithContext(ctx).
		Where("token_hash = ? AND is_active = ?", digest, true).
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("token: resolve: %w", errFind)
	}
	if row.ExpiresAt != nil && row.ExpiresAt.Before(time.Now().UTC()) {
		return nil, ErrTokenNotFound
	}

	var user models.User
	errUser := m.db.WithContext(ctx).Where("id = ?", row.UserID).Take(&user).Error
	if errUser != nil {
		if errors.Is(errUser, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("token: resolve user: %w", errUser)
	}

	return &Identity{User: user, Token: row}, nil
}
