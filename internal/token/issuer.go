package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/how2validate/apiserver/internal/models"
)

const (
	// secretPrefix identifies issued secrets as How2Validate credentials.
	secretPrefix = "h2v-"
	// secretBytes is the entropy of each issued secret (192 bits).
	secretBytes = 24
	// collisionWarnAfter is the consecutive-collision count past which the
	// issuer starts logging; with 192 bits of entropy reaching it means the
	// random source is suspect, not that the loop is stuck.
	collisionWarnAfter = 3
)

// Issuer generates token secrets whose digests are unused across all users.
type Issuer struct {
	db   *gorm.DB
	rand io.Reader
}

// NewIssuer constructs an Issuer backed by GORM and crypto/rand.
func NewIssuer(db *gorm.DB) *Issuer {
	return &Issuer{db: db, rand: rand.Reader}
}

// Issue generates a fresh secret and returns the plaintext together with its
// digest. Generation repeats until the digest is absent from the store, so
// the returned digest is unique system-wide at issuance time. The plaintext
// is never persisted and must be handed to the caller exactly once.
func (i *Issuer) Issue(ctx context.Context) (plaintext, digest string, err error) {
	if i == nil || i.db == nil {
		return "", "", fmt.Errorf("token issuer: not initialized")
	}

	for attempt := 1; ; attempt++ {
		buf := make([]byte, secretBytes)
		if _, errRead := io.ReadFull(i.rand, buf); errRead != nil {
			return "", "", fmt.Errorf("token issuer: read random: %w", errRead)
		}
		plaintext = secretPrefix + hex.EncodeToString(buf)
		digest = Digest(plaintext)

		var count int64
		errCount := i.db.WithContext(ctx).Model(&models.PersonalAccessToken{}).
			Where("token_hash = ?", digest).
			Count(&count).Error
		if errCount != nil {
			return "", "", fmt.Errorf("token issuer: uniqueness check: %w", errCount)
		}
		if count == 0 {
			return plaintext, digest, nil
		}
		if attempt >= collisionWarnAfter {
			log.Warnf("token issuer: %d consecutive digest collisions", attempt)
		}
	}
}
