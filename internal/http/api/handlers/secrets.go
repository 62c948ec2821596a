package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/how2validate/apiserver/internal/usage"
	"github.com/how2validate/apiserver/internal/validator"
)

// SecretsHandler dispatches secret validations for token-authenticated
// callers.
type SecretsHandler struct {
	dispatcher *validator.Dispatcher
	usage      *usage.Accumulator
}

// NewSecretsHandler constructs a SecretsHandler.
func NewSecretsHandler(dispatcher *validator.Dispatcher, acc *usage.Accumulator) *SecretsHandler {
	return &SecretsHandler{dispatcher: dispatcher, usage: acc}
}

// Validate probes a secret against its provider and returns the normalized
// result. Unknown services produce an unsupported result, not an error.
func (h *SecretsHandler) Validate(c *gin.Context) {
	identity, ok := tokenIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "missing identity"})
		return
	}

	var body struct {
		Service     string `json:"service"`
		Secret      string `json:"secret"`
		Response    bool   `json:"response"`
		ReportEmail string `json:"report_email"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Service) == "" || body.Secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing service or secret"})
		return
	}

	if errCount := h.usage.IncrementAPIUsage(
		c.Request.Context(), identity.User.ID, identity.Token.TokenHash); errCount != nil {
		log.WithError(errCount).Warn("secrets: count api usage")
	}

	userID := identity.User.ID
	tokenID := identity.Token.ID
	result := h.dispatcher.Dispatch(c.Request.Context(), validator.Request{
		Service:            body.Service,
		Secret:             body.Secret,
		IncludeRawResponse: body.Response,
		ReportEmail:        strings.TrimSpace(body.ReportEmail),
		UserID:             &userID,
		TokenID:            &tokenID,
	})
	c.JSON(http.StatusOK, result)
}

// Services lists the supported service identifiers.
func (h *SecretsHandler) Services(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": h.dispatcher.Services()})
}
