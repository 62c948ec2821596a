package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/how2validate/apiserver/internal/auth"
	"github.com/how2validate/apiserver/internal/models"
	"github.com/how2validate/apiserver/internal/token"
)

// Context keys set by the auth middleware.
const (
	ctxUserKey     = "user"
	ctxIdentityKey = "identity"
)

// bearerFromHeader extracts the Bearer credential from the Authorization
// header. The second return reports whether the header was present at all.
func bearerFromHeader(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	credential := strings.TrimPrefix(header, "Bearer ")
	if credential == header {
		return "", true
	}
	return strings.TrimSpace(credential), true
}

// SessionAuthMiddleware validates dashboard session JWTs and loads the
// signed-in user onto the request context.
func SessionAuthMiddleware(db *gorm.DB, sessions *auth.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, present := bearerFromHeader(c)
		if !present {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		if credential == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		claims, errParse := sessions.Parse(credential)
		if errParse != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid session"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown user"})
			return
		}
		if !user.IsActive || user.Subscription.IsBanned {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}

		c.Set(ctxUserKey, user)
		c.Next()
	}
}

// TokenAuthMiddleware authenticates requests that carry a personal access
// token secret and loads the resolved identity onto the request context.
func TokenAuthMiddleware(tokens *token.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, present := bearerFromHeader(c)
		if !present {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		if credential == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		identity, errResolve := tokens.Resolve(c.Request.Context(), credential)
		if errResolve != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid or expired token"})
			return
		}
		if !identity.User.IsActive || identity.User.Subscription.IsBanned {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}

		c.Set(ctxIdentityKey, identity)
		c.Next()
	}
}

// sessionUser returns the user loaded by SessionAuthMiddleware.
func sessionUser(c *gin.Context) (models.User, bool) {
	value, ok := c.Get(ctxUserKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := value.(models.User)
	return user, ok
}

// tokenIdentity returns the identity loaded by TokenAuthMiddleware.
func tokenIdentity(c *gin.Context) (*token.Identity, bool) {
	value, ok := c.Get(ctxIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*token.Identity)
	return identity, ok
}
