package validator

import (
	"context"
	"encoding/json"
	"net/http"
)

const slackAuthTestEndpoint = "https://slack.com/api/auth.test?pretty=1"

// slackValidator probes the Slack auth.test endpoint. Slack answers 200 even
// for rejected tokens, so the body's ok flag decides the state.
type slackValidator struct {
	endpoint string
	client   *http.Client
}

func newSlackValidator() *slackValidator {
	return &slackValidator{endpoint: slackAuthTestEndpoint, client: defaultHTTPClient()}
}

func (v *slackValidator) Validate(ctx context.Context, secret string) (Outcome, error) {
	req, errRequest := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if errRequest != nil {
		return Outcome{State: StateError}, errRequest
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	outcome, errExecute := execute(v.client, req)
	if errExecute != nil {
		return outcome, errExecute
	}

	if outcome.State == StateActive {
		var body struct {
			OK bool `json:"ok"`
		}
		if errUnmarshal := json.Unmarshal([]byte(outcome.Body), &body); errUnmarshal != nil || !body.OK {
			outcome.State = StateInActive
		}
	}
	return outcome, nil
}
