package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/how2validate/apiserver/internal/mail"
	"github.com/how2validate/apiserver/internal/models"
)

// Supported service identifiers. The registry is closed: dispatching any
// other identifier yields an unsupported Result, never an error.
const (
	ServiceGitHubPAT       = "github_personal_access_token"
	ServiceSlackAPIToken   = "slack_api_token"
	ServiceNpmAccessToken  = "npm_access_token"
	ServiceOpenAIAPIKey    = "openai_api_key"
	ServiceAnthropicAPIKey = "anthropic_api_key"
	ServiceHfOrgAPIKey     = "hf_org_api_key"
	ServiceHfUserToken     = "hf_user_access_token"
)

// Mailer delivers validation report emails.
type Mailer interface {
	Send(ctx context.Context, report mail.Report) error
}

// mailTimeout bounds the fire-and-forget report delivery.
const mailTimeout = 30 * time.Second

type registryEntry struct {
	provider  string
	validator Validator
}

// Dispatcher routes validation requests to the matching provider probe,
// records an audit row, and optionally emails the outcome.
type Dispatcher struct {
	db       *gorm.DB
	mailer   Mailer
	registry map[string]registryEntry
}

// NewDispatcher constructs a Dispatcher with the built-in service registry.
func NewDispatcher(db *gorm.DB, mailer Mailer) *Dispatcher {
	return &Dispatcher{
		db:     db,
		mailer: mailer,
		registry: map[string]registryEntry{
			ServiceGitHubPAT:       {provider: "GitHub", validator: newGitHubValidator()},
			ServiceSlackAPIToken:   {provider: "Slack", validator: newSlackValidator()},
			ServiceNpmAccessToken:  {provider: "Npm", validator: newNpmValidator()},
			ServiceOpenAIAPIKey:    {provider: "OpenAI", validator: newOpenAIValidator()},
			ServiceAnthropicAPIKey: {provider: "Anthropic", validator: newAnthropicValidator()},
			ServiceHfOrgAPIKey:     {provider: "HuggingFace", validator: newHuggingFaceValidator()},
			ServiceHfUserToken:     {provider: "HuggingFace", validator: newHuggingFaceValidator()},
		},
	}
}

// Services returns the supported service identifiers.
func (d *Dispatcher) Services() []string {
	services := make([]string, 0, len(d.registry))
	for name := range d.registry {
		services = append(services, name)
	}
	return services
}

// Supported reports whether a service identifier is in the registry.
func (d *Dispatcher) Supported(service string) bool {
	_, ok := d.registry[service]
	return ok
}

// Request describes one secret validation.
type Request struct {
	Service            string
	Secret             string
	IncludeRawResponse bool
	ReportEmail        string
	UserID             *uint64
	TokenID            *uint64
}

// Dispatch validates a secret against its service's provider. The returned
// Result always carries one of the three states; probe failures are folded
// into StateError with the underlying cause logged server-side only.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	now := time.Now().UTC()

	entry, ok := d.registry[req.Service]
	if !ok {
		return Result{
			Service:     req.Service,
			State:       StateError,
			Message:     fmt.Sprintf("The service '%s' is currently not supported.", req.Service),
			Unsupported: true,
			Timestamp:   now,
		}
	}

	outcome, errValidate := entry.validator.Validate(ctx, req.Secret)

	result := Result{
		Service:   req.Service,
		Provider:  entry.provider,
		State:     outcome.State,
		Timestamp: now,
	}
	switch outcome.State {
	case StateActive:
		result.Message = activeMessage(req.Service)
	case StateInActive:
		result.Message = inactiveMessage(req.Service)
	default:
		result.Message = errorMessage(req.Service)
		if errValidate != nil {
			log.Warnf("validator: probe %s failed: %v", req.Service, errValidate)
		}
	}
	if req.IncludeRawResponse {
		result.Response = outcome.Body
	}

	d.record(req, result, outcome)

	if req.ReportEmail != "" {
		result.Report = fmt.Sprintf("Validation report sent to %s.", req.ReportEmail)
		d.report(req, result, outcome)
	}
	return result
}

// record appends one audit row; failures are logged, never surfaced.
func (d *Dispatcher) record(req Request, result Result, outcome Outcome) {
	if d.db == nil {
		return
	}
	row := models.ValidationRecord{
		UserID:      req.UserID,
		TokenID:     req.TokenID,
		Provider:    result.Provider,
		Service:     result.Service,
		State:       string(result.State),
		Reported:    req.ReportEmail != "",
		RequestedAt: result.Timestamp,
	}
	if outcome.Body != "" {
		row.RawResponse = rawJSON(outcome.Body)
	}
	if errCreate := d.db.Create(&row).Error; errCreate != nil {
		log.Warnf("validator: record audit row for %s: %v", req.Service, errCreate)
	}
}

// report delivers the outcome email without blocking the caller.
func (d *Dispatcher) report(req Request, result Result, outcome Outcome) {
	if d.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
		defer cancel()

		errSend := d.mailer.Send(ctx, mail.Report{
			Email:    req.ReportEmail,
			Provider: result.Provider,
			Service:  result.Service,
			State:    string(result.State),
			Response: outcome.Body,
		})
		if errSend != nil {
			log.Warnf("validator: report email for %s: %v", req.Service, errSend)
		}
	}()
}

// rawJSON coerces an upstream body into a valid JSON document so it can be
// stored in a jsonb column.
func rawJSON(body string) []byte {
	raw := []byte(body)
	if json.Valid(raw) {
		return raw
	}
	quoted, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		return nil
	}
	return quoted
}
