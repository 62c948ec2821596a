package validator

import (
	"context"
	"net/http"
)

const npmUserEndpoint = "https://registry.npmjs.org/-/npm/v1/user"

// npmValidator probes the npm registry user endpoint with an access token.
type npmValidator struct {
	endpoint string
	client   *http.Client
}

func newNpmValidator() *npmValidator {
	return &npmValidator{endpoint: npmUserEndpoint, client: defaultHTTPClient()}
}

func (v *npmValidator) Validate(ctx context.Context, secret string) (Outcome, error) {
	req, errRequest := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if errRequest != nil {
		return Outcome{State: StateError}, errRequest
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	return execute(v.client, req)
}
