package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/how2validate/apiserver/internal/mail"
	"github.com/how2validate/apiserver/internal/quota"
	"github.com/how2validate/apiserver/internal/report"
	"github.com/how2validate/apiserver/internal/usage"
)

// maxReportBody caps encrypted report envelopes at 5 MiB.
const maxReportBody = 5 << 20

// ReportHandler accepts client-encrypted validation reports, decrypts them,
// and forwards them to the token's notification address.
type ReportHandler struct {
	guard     *quota.Guard
	usage     *usage.Accumulator
	decryptor *report.Decryptor
	mailer    *mail.Client
}

// NewReportHandler constructs a ReportHandler.
func NewReportHandler(guard *quota.Guard, acc *usage.Accumulator, decryptor *report.Decryptor, mailer *mail.Client) *ReportHandler {
	return &ReportHandler{guard: guard, usage: acc, decryptor: decryptor, mailer: mailer}
}

// Report processes one encrypted report. Quota is checked before any
// decryption work; usage counters move only after the mail provider accepts
// the send.
func (h *ReportHandler) Report(c *gin.Context) {
	identity, ok := tokenIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "missing identity"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxReportBody)

	var env report.Envelope
	if errBind := c.ShouldBindJSON(&env); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report envelope"})
		return
	}

	under, errCheck := h.guard.UnderDailyReportThreshold(
		c.Request.Context(), identity.User.ID, identity.Token.TokenHash)
	if errCheck != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "threshold check failed"})
		return
	}
	if !under {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily report limit reached"})
		return
	}

	payload, errDecrypt := h.decryptor.Decrypt(env, identity.Token.TokenEmail)
	if errDecrypt != nil {
		log.WithError(errDecrypt).Warn("report: decrypt envelope")
		switch {
		case errors.Is(errDecrypt, report.ErrEnvelopeDecryption):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "report key decryption failed"})
		case errors.Is(errDecrypt, report.ErrPayloadDecryption):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "report payload decryption failed"})
		case errors.Is(errDecrypt, report.ErrMalformedPayload):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "report payload is malformed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "report processing failed"})
		}
		return
	}

	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report processing failed"})
		return
	}

	errSend := h.mailer.Send(c.Request.Context(), mail.Report{
		Email:    identity.Token.TokenEmail,
		Provider: stringField(payload, "provider"),
		Service:  stringField(payload, "service"),
		State:    stringField(payload, "state"),
		Response: string(body),
	})
	if errSend != nil {
		log.WithError(errSend).Warn("report: send mail")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report delivery failed"})
		return
	}

	if errUsage := h.usage.IncrementReportUsage(
		c.Request.Context(), identity.User.ID, identity.Token.TokenHash); errUsage != nil {
		log.WithError(errUsage).Warn("report: count token usage")
	}
	if errUser := h.usage.IncrementUserReportingCount(
		c.Request.Context(), identity.User.ID); errUser != nil {
		log.WithError(errUser).Warn("report: count user usage")
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Validation report sent to " + identity.Token.TokenEmail + ".",
	})
}

// stringField extracts an optional string field from the decrypted payload.
func stringField(payload map[string]any, key string) string {
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}
