package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/how2validate/apiserver/internal/models"
	"github.com/how2validate/apiserver/internal/quota"
	"github.com/how2validate/apiserver/internal/report"
	"github.com/how2validate/apiserver/internal/usage"
)

// AccountHandler serves the token-authenticated account endpoints.
type AccountHandler struct {
	guard     *quota.Guard
	usage     *usage.Accumulator
	decryptor *report.Decryptor
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(guard *quota.Guard, acc *usage.Accumulator, decryptor *report.Decryptor) *AccountHandler {
	return &AccountHandler{guard: guard, usage: acc, decryptor: decryptor}
}

// tokenView is the caller-facing shape of a token record. Hash fields never
// leave the server on this path.
type tokenView struct {
	TokenName  string     `json:"token_name"`
	TokenEmail string     `json:"token_email"`
	UsageCount int64      `json:"usage_count"`
	DayAPI     int64      `json:"day_api"`
	DayEmail   int64      `json:"day_email"`
	TotalAPI   int64      `json:"total_api"`
	TotalEmail int64      `json:"total_email"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt time.Time  `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func newTokenView(row models.PersonalAccessToken) tokenView {
	return tokenView{
		TokenName:  row.TokenName,
		TokenEmail: row.TokenEmail,
		UsageCount: row.UsageCount,
		DayAPI:     row.DayAPI,
		DayEmail:   row.DayEmail,
		TotalAPI:   row.TotalAPI,
		TotalEmail: row.TotalEmail,
		IsActive:   row.IsActive,
		LastUsedAt: row.LastUsedAt,
		CreatedAt:  row.CreatedAt,
		ExpiresAt:  row.ExpiresAt,
	}
}

// countUse records one authenticated API call against the presented token.
// Failures are logged; the request itself still succeeds.
func (h *AccountHandler) countUse(c *gin.Context, userID uint64, tokenHash string) {
	if errCount := h.usage.IncrementAPIUsage(c.Request.Context(), userID, tokenHash); errCount != nil {
		log.WithError(errCount).Warn("account: count api usage")
	}
	if errTouch := h.usage.TouchLastUsed(c.Request.Context(), userID, tokenHash); errTouch != nil {
		log.WithError(errTouch).Warn("account: touch last used")
	}
}

// Me returns the authenticated user's profile and the presented token's
// counters.
func (h *AccountHandler) Me(c *gin.Context) {
	identity, ok := tokenIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "missing identity"})
		return
	}
	h.countUse(c, identity.User.ID, identity.Token.TokenHash)

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":         identity.User.ID,
			"username":   identity.User.Username,
			"email":      identity.User.Email,
			"avatar_url": identity.User.AvatarURL,
			"plan":       identity.User.Subscription.Plan,
		},
		"token": newTokenView(identity.Token),
	})
}

// Validate reports whether the presented token is usable and whether it is
// still under its daily email-report allowance.
func (h *AccountHandler) Validate(c *gin.Context) {
	identity, ok := tokenIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "missing identity"})
		return
	}
	h.countUse(c, identity.User.ID, identity.Token.TokenHash)

	underReport, errCheck := h.guard.UnderDailyReportThreshold(
		c.Request.Context(), identity.User.ID, identity.Token.TokenHash)
	if errCheck != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "threshold check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":                 true,
		"token_name":            identity.Token.TokenName,
		"under_email_threshold": underReport,
	})
}

// PublicKey returns the PEM public key clients use to seal report envelopes.
func (h *AccountHandler) PublicKey(c *gin.Context) {
	identity, ok := tokenIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "missing identity"})
		return
	}
	h.countUse(c, identity.User.ID, identity.Token.TokenHash)

	c.JSON(http.StatusOK, gin.H{"public_key": h.decryptor.PublicKeyPEM()})
}
