package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

const (
	anthropicMessagesEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion          = "2023-06-01"
	anthropicProbeModel       = "claude-3-5-sonnet-20241022"
)

// anthropicValidator sends a minimal messages request; the API has no
// dedicated key-introspection endpoint.
type anthropicValidator struct {
	endpoint string
	client   *http.Client
}

func newAnthropicValidator() *anthropicValidator {
	return &anthropicValidator{endpoint: anthropicMessagesEndpoint, client: defaultHTTPClient()}
}

func (v *anthropicValidator) Validate(ctx context.Context, secret string) (Outcome, error) {
	probe := map[string]interface{}{
		"model":      anthropicProbeModel,
		"max_tokens": 1024,
		"messages": []map[string]string{
			{"role": "user", "content": "Hello, world"},
		},
	}
	body, errMarshal := json.Marshal(probe)
	if errMarshal != nil {
		return Outcome{State: StateError}, errMarshal
	}
	req, errRequest := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if errRequest != nil {
		return Outcome{State: StateError}, errRequest
	}
	req.Header.Set("x-api-key", secret)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")
	return execute(v.client, req)
}
