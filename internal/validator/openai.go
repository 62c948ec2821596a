package validator

import (
	"context"
	"net/http"
)

const openaiMeEndpoint = "https://api.openai.com/v1/me"

// openaiValidator checks an OpenAI API key against the account endpoint.
type openaiValidator struct {
	endpoint string
	client   *http.Client
}

func newOpenAIValidator() *openaiValidator {
	return &openaiValidator{endpoint: openaiMeEndpoint, client: defaultHTTPClient()}
}

func (v *openaiValidator) Validate(ctx context.Context, secret string) (Outcome, error) {
	req, errRequest := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if errRequest != nil {
		return Outcome{State: StateError}, errRequest
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	return execute(v.client, req)
}
