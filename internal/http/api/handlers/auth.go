package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/how2validate/apiserver/internal/auth"
	"github.com/how2validate/apiserver/internal/models"
)

// defaultAccountLifetime is the expiry stamped onto new accounts. The
// subscription layer may shorten it later.
const defaultAccountLifetime = 365 * 24 * time.Hour

// AuthHandler exchanges a verified OAuth identity for a session token. The
// OAuth dance itself happens upstream; this endpoint trusts its output.
type AuthHandler struct {
	db       *gorm.DB
	sessions *auth.Sessions
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, sessions *auth.Sessions) *AuthHandler {
	return &AuthHandler{db: db, sessions: sessions}
}

// SignIn upserts the user record for a verified identity and returns a
// session token. Identity fields are set on insert only; repeat sign-ins
// just refresh the profile and last-login timestamp.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var body struct {
		ExternalID string `json:"external_id"`
		Username   string `json:"username"`
		Email      string `json:"email"`
		AvatarURL  string `json:"avatar_url"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	externalID := strings.TrimSpace(body.ExternalID)
	if externalID == "" || strings.TrimSpace(body.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing identity fields"})
		return
	}

	now := time.Now().UTC()
	row := models.User{
		ExternalID: externalID,
		Username:   body.Username,
		Email:      body.Email,
		AvatarURL:  body.AvatarURL,
		Subscription: models.Subscription{
			Plan:                 "Pro-Free",
			APIThreshold:         5,
			EmailPerDayThreshold: 10,
			ExpiresAt:            now.Add(defaultAccountLifetime),
		},
		IsActive:     true,
		LastLoggedIn: now,
		ExpiresAt:    now.Add(defaultAccountLifetime),
	}
	errUpsert := h.db.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"username":       body.Username,
				"email":          body.Email,
				"avatar_url":     body.AvatarURL,
				"last_logged_in": now,
			}),
		}).
		Create(&row).Error
	if errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		return
	}

	// Reload to get the canonical row; the upsert leaves row.ID unset on
	// conflict for some drivers.
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("external_id = ?", externalID).Take(&user).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		return
	}
	if !user.IsActive || user.Subscription.IsBanned {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}

	session, errIssue := h.sessions.Issue(user.ID, user.ExternalID)
	if errIssue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"user_id":  user.ID,
		"username": user.Username,
	})
}
