package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/how2validate/apiserver/internal/quota"
)

// UserInfoHandler serves the session-authenticated profile endpoints used by
// the dashboard.
type UserInfoHandler struct {
	guard *quota.Guard
}

// NewUserInfoHandler constructs a UserInfoHandler.
func NewUserInfoHandler(guard *quota.Guard) *UserInfoHandler {
	return &UserInfoHandler{guard: guard}
}

// UserInfo returns the signed-in user's profile and usage summary.
func (h *UserInfoHandler) UserInfo(c *gin.Context) {
	user, ok := sessionUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "missing user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"avatar_url": user.AvatarURL,
		"subscription": gin.H{
			"plan":                    user.Subscription.Plan,
			"api_threshold":           user.Subscription.APIThreshold,
			"email_per_day_threshold": user.Subscription.EmailPerDayThreshold,
			"expires_at":              user.Subscription.ExpiresAt,
		},
		"usage": gin.H{
			"active_api_count":     user.Usage.ActiveAPICount,
			"email_reported_today": user.Usage.EmailReportedToday,
			"total_email_reported": user.Usage.TotalEmailReported,
		},
		"last_logged_in": user.LastLoggedIn,
	})
}

// CheckThreshold reports whether a user may activate another token. The
// dashboard calls it before offering the generate flow.
func (h *UserInfoHandler) CheckThreshold(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("userId"))
	userID, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	user, ok := sessionUser(c)
	if !ok || user.ID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
		return
	}

	allowed, errCheck := h.guard.UnderAPIThreshold(c.Request.Context(), userID)
	if errCheck != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "threshold check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}
