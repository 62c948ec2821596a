package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/how2validate/apiserver/internal/config"
)

// reportSubject is the template subject line for validation reports.
const reportSubject = "How2Validate Secret Validation Report"

// ErrNotConfigured indicates the mail transport has no endpoint configured.
var ErrNotConfigured = errors.New("mail: transport not configured")

// ErrDispatch indicates the provider rejected or failed the send.
var ErrDispatch = errors.New("mail: send failed")

// Report carries the fields merged into the validation report template.
type Report struct {
	Email    string
	Provider string
	Service  string
	State    string
	Response string
}

// Client sends templated validation reports through the ZeptoMail API.
type Client struct {
	cfg        config.MailConfig
	httpClient *http.Client
}

// NewClient constructs a Client from mail settings.
func NewClient(cfg config.MailConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Send dispatches one validation report email. The recipient display name is
// derived from the address.
func (c *Client) Send(ctx context.Context, report Report) error {
	if c == nil || strings.TrimSpace(c.cfg.URL) == "" {
		return ErrNotConfigured
	}

	payload := map[string]any{
		"mail_template_key": c.cfg.TemplateKey,
		"from": map[string]any{
			"address": c.cfg.FromEmail,
			"name":    c.cfg.FromName,
		},
		"to": []map[string]any{
			{
				"email_address": map[string]any{
					"address": report.Email,
					"name":    usernameFromEmail(report.Email),
				},
			},
		},
		"merge_info": map[string]any{
			"secret_provider": report.Provider,
			"secret_state":    report.State,
			"secret_service":  report.Service,
			"secret_report":   report.Response,
		},
		"subject": reportSubject,
	}

	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return fmt.Errorf("mail: marshal payload: %w", errMarshal)
	}

	req, errRequest := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if errRequest != nil {
		return fmt.Errorf("mail: build request: %w", errRequest)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.cfg.Token)

	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return fmt.Errorf("%w: %v", ErrDispatch, errDo)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrDispatch, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// usernameFromEmail derives a display name from the address local part.
func usernameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return "User"
	}
	return local
}
