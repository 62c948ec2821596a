package validator

import (
	"context"
	"net/http"
)

const huggingfaceWhoamiEndpoint = "https://huggingface.co/api/whoami-v2"

// huggingfaceValidator serves both organization and user access tokens;
// whoami-v2 accepts either kind.
type huggingfaceValidator struct {
	endpoint string
	client   *http.Client
}

func newHuggingFaceValidator() *huggingfaceValidator {
	return &huggingfaceValidator{endpoint: huggingfaceWhoamiEndpoint, client: defaultHTTPClient()}
}

func (v *huggingfaceValidator) Validate(ctx context.Context, secret string) (Outcome, error) {
	req, errRequest := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if errRequest != nil {
		return Outcome{State: StateError}, errRequest
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	return execute(v.client, req)
}
