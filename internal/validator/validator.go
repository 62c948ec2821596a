package validator

import (
	"context"
	"fmt"
	"time"
)

// State classifies a secret validation outcome. Every dispatch resolves to
// exactly one of the three states; a transient network failure is Error,
// never InActive.
type State string

const (
	// StateActive means the provider accepted the secret.
	StateActive State = "Active"
	// StateInActive means the provider rejected the secret.
	StateInActive State = "InActive"
	// StateError means the probe could not be completed.
	StateError State = "Error"
)

// Outcome is the raw classification produced by one provider probe.
type Outcome struct {
	State      State
	StatusCode int
	Body       string
}

// Validator performs exactly one authentication probe against a provider's
// API and classifies the result.
type Validator interface {
	Validate(ctx context.Context, secret string) (Outcome, error)
}

// Result is the normalized validation contract returned to callers.
type Result struct {
	Service     string    `json:"service"`
	Provider    string    `json:"provider"`
	State       State     `json:"state"`
	Message     string    `json:"message"`
	Response    string    `json:"response,omitempty"`
	Report      string    `json:"report,omitempty"`
	Unsupported bool      `json:"unsupported,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// activeMessage formats the caller-facing message for an accepted secret.
func activeMessage(service string) string {
	return fmt.Sprintf("The provided secret '%s' is currently active and operational.", service)
}

// inactiveMessage formats the caller-facing message for a rejected secret.
func inactiveMessage(service string) string {
	return fmt.Sprintf("The provided secret '%s' is currently inactive and not operational.", service)
}

// errorMessage formats the caller-facing message for a failed probe. The
// underlying error is logged, not echoed.
func errorMessage(service string) string {
	return fmt.Sprintf("An error occurred while validating the secret '%s'.", service)
}
