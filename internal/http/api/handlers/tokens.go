package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/how2validate/apiserver/internal/quota"
	"github.com/how2validate/apiserver/internal/token"
)

// TokenHandler manages the personal access token lifecycle endpoints used by
// the dashboard.
type TokenHandler struct {
	tokens *token.Manager
}

// NewTokenHandler constructs a TokenHandler.
func NewTokenHandler(tokens *token.Manager) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// Generate issues a fresh secret without persisting it. The plaintext is
// returned exactly once; the dashboard follows up with an upsert carrying
// the hash.
func (h *TokenHandler) Generate(c *gin.Context) {
	plaintext, digest, errIssue := h.tokens.Issue(c.Request.Context())
	if errIssue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      plaintext,
		"token_hash": digest,
	})
}

// pathUserID parses the :userId parameter and verifies it names the
// signed-in user.
func pathUserID(c *gin.Context) (uint64, bool) {
	userID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("userId")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	user, ok := sessionUser(c)
	if !ok || user.ID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
		return 0, false
	}
	return userID, true
}

// List returns the user's tokens in insertion order.
func (h *TokenHandler) List(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	rows, errList := h.tokens.List(c.Request.Context(), userID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tokens failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": rows})
}

// Upsert creates or updates a token record by hash. A record whose
// previous_hash matches an existing row's token_hash replaces it in place,
// preserving counters; anything else creates a new quota-gated row.
func (h *TokenHandler) Upsert(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	var body struct {
		TokenName    string     `json:"token_name"`
		TokenHash    string     `json:"token_hash"`
		PreviousHash string     `json:"previous_hash"`
		TokenEmail   string     `json:"token_email"`
		ExpiresAt    *time.Time `json:"expires_at"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.TokenHash) == "" || strings.TrimSpace(body.TokenName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token fields"})
		return
	}

	row, created, errUpsert := h.tokens.Upsert(c.Request.Context(), userID, token.UpsertRecord{
		TokenName:    body.TokenName,
		TokenHash:    body.TokenHash,
		PreviousHash: body.PreviousHash,
		TokenEmail:   body.TokenEmail,
		ExpiresAt:    body.ExpiresAt,
	})
	if errUpsert != nil {
		if errors.Is(errUpsert, quota.ErrAPIQuotaExceeded) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "active token limit reached"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save token failed"})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"token": row})
}

// Delete removes a token by hash and releases its active-count slot.
func (h *TokenHandler) Delete(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	var body struct {
		TokenHash string `json:"token_hash"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.TokenHash) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token_hash"})
		return
	}

	errDelete := h.tokens.Delete(c.Request.Context(), userID, body.TokenHash)
	if errDelete != nil {
		if errors.Is(errDelete, token.ErrTokenNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
