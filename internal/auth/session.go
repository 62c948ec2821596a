package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/how2validate/apiserver/internal/config"
)

// ErrInvalidSession indicates a session token that failed verification.
var ErrInvalidSession = errors.New("auth: invalid session token")

// SessionClaims is the JWT payload for a signed-in dashboard user.
type SessionClaims struct {
	UserID     uint64 `json:"uid"`
	ExternalID string `json:"sub_ext"`
	jwt.RegisteredClaims
}

// Sessions signs and verifies dashboard session tokens.
type Sessions struct {
	cfg config.SessionConfig
}

// NewSessions constructs a Sessions helper from session settings.
func NewSessions(cfg config.SessionConfig) *Sessions {
	return &Sessions{cfg: cfg}
}

// Issue signs a session token for the user.
func (s *Sessions) Issue(userID uint64, externalID string) (string, error) {
	if s == nil || s.cfg.Secret == "" {
		return "", errors.New("auth: session secret not configured")
	}
	now := time.Now().UTC()
	claims := SessionClaims{
		UserID:     userID,
		ExternalID: externalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.Expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(s.cfg.Secret))
	if errSign != nil {
		return "", fmt.Errorf("auth: sign session token: %w", errSign)
	}
	return signed, nil
}

// Parse verifies a session token and returns its claims.
func (s *Sessions) Parse(tokenString string) (*SessionClaims, error) {
	if s == nil || s.cfg.Secret == "" {
		return nil, ErrInvalidSession
	}
	claims := &SessionClaims{}
	token, errParse := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if errParse != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
