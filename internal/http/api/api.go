// Package api wires the HTTP surface: route groups, auth middleware, and
// handler construction.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/how2validate/apiserver/internal/auth"
	"github.com/how2validate/apiserver/internal/http/api/handlers"
	"github.com/how2validate/apiserver/internal/mail"
	"github.com/how2validate/apiserver/internal/quota"
	"github.com/how2validate/apiserver/internal/report"
	"github.com/how2validate/apiserver/internal/token"
	"github.com/how2validate/apiserver/internal/usage"
	"github.com/how2validate/apiserver/internal/validator"
)

// Deps carries the shared components injected into every handler.
type Deps struct {
	DB         *gorm.DB
	Sessions   *auth.Sessions
	Tokens     *token.Manager
	Guard      *quota.Guard
	Usage      *usage.Accumulator
	Decryptor  *report.Decryptor
	Mailer     *mail.Client
	Dispatcher *validator.Dispatcher
}

// RegisterRoutes registers all routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Sessions)
	apiGroup.POST("/auth/signin", authHandler.SignIn)

	// Dashboard endpoints ride on the session JWT minted at sign-in.
	session := apiGroup.Group("")
	session.Use(handlers.SessionAuthMiddleware(deps.DB, deps.Sessions))

	tokenHandler := handlers.NewTokenHandler(deps.Tokens)
	session.POST("/tokens/generate", tokenHandler.Generate)
	session.GET("/tokens/:userId", tokenHandler.List)
	session.POST("/tokens/:userId", tokenHandler.Upsert)
	session.DELETE("/tokens/:userId", tokenHandler.Delete)

	userInfoHandler := handlers.NewUserInfoHandler(deps.Guard)
	session.GET("/userinfo", userInfoHandler.UserInfo)
	session.GET("/check-threshold", userInfoHandler.CheckThreshold)

	// Programmatic endpoints authenticate with the personal access token
	// secret itself.
	bearer := apiGroup.Group("")
	bearer.Use(handlers.TokenAuthMiddleware(deps.Tokens))

	accountHandler := handlers.NewAccountHandler(deps.Guard, deps.Usage, deps.Decryptor)
	bearer.GET("/me", accountHandler.Me)
	bearer.GET("/validate", accountHandler.Validate)
	bearer.GET("/public-key", accountHandler.PublicKey)

	reportHandler := handlers.NewReportHandler(deps.Guard, deps.Usage, deps.Decryptor, deps.Mailer)
	bearer.POST("/report", reportHandler.Report)

	secretsHandler := handlers.NewSecretsHandler(deps.Dispatcher, deps.Usage)
	bearer.POST("/secrets/validate", secretsHandler.Validate)
	bearer.GET("/secrets/services", secretsHandler.Services)
}
