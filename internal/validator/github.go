package validator

import (
	"context"
	"net/http"
)

const githubUserEndpoint = "https://api.github.com/user"

// githubValidator probes the GitHub user endpoint with a personal access
// token.
type githubValidator struct {
	endpoint string
	client   *http.Client
}

func newGitHubValidator() *githubValidator {
	return &githubValidator{endpoint: githubUserEndpoint, client: defaultHTTPClient()}
}

func (v *githubValidator) Validate(ctx context.Context, secret string) (Outcome, error) {
	req, errRequest := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if errRequest != nil {
		return Outcome{State: StateError}, errRequest
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	return execute(v.client, req)
}
