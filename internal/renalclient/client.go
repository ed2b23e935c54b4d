// Package renalclient is a Go client for the RenalSim API. Besides the HTTP
// calls it carries the dashboard behaviour that lives outside the server:
// retried patient fetches, the debounced prediction pipeline and the
// what-if lever session with its deterministic fallback.
package renalclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/renalsim/renalsim/internal/domain/copilot"
	"github.com/renalsim/renalsim/internal/domain/patient"
	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

// ErrPatientNotFound is returned when the API answers 404 for a patient.
var ErrPatientNotFound = errors.New("renalclient: patient not found")

// DefaultAttempts is how many times GetPatient tries before giving up.
const DefaultAttempts = 3

// APIError is a non-2xx response carrying the API's error body.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("renalclient: %d %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("renalclient: %d %s", e.StatusCode, e.Message)
}

// Client talks to the API served at baseURL.
type Client struct {
	http     *resty.Client
	attempts int
	backoff  func(attempt int) time.Duration
	logger   zerolog.Logger
}

type Option func(*Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.http.SetAuthToken(token) }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithBackoff replaces the wait between GetPatient attempts. attempt is the
// zero-based index of the attempt that just failed.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(c *Client) { c.backoff = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// LinearBackoff waits 1s, then 2s, between patient fetch attempts.
func LinearBackoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * time.Second
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(30*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		attempts: DefaultAttempts,
		backoff:  LinearBackoff,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends a request and decodes a 2xx body into result. Error bodies come
// back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	req := c.http.R().SetContext(ctx).SetError(&APIError{})
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr, _ := resp.Error().(*APIError)
		if apiErr == nil || apiErr.Message == "" {
			apiErr = &APIError{Message: http.StatusText(resp.StatusCode())}
		}
		apiErr.StatusCode = resp.StatusCode()
		return apiErr
	}
	return nil
}

// ListPatients returns the roster.
func (c *Client) ListPatients(ctx context.Context) ([]patient.Summary, error) {
	var out []patient.Summary
	if err := c.do(ctx, http.MethodGet, "/patients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPatient fetches a patient detail, retrying failures other than 404.
func (c *Client) GetPatient(ctx context.Context, mrn string) (*patient.Detail, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		var out patient.Detail
		err := c.do(ctx, http.MethodGet, "/patients/"+mrn, nil, &out)
		if err == nil {
			return &out, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrPatientNotFound
		}
		lastErr = err
		if attempt == c.attempts-1 {
			break
		}

		wait := c.backoff(attempt)
		c.logger.Warn().Err(err).Str("mrn", mrn).Int("attempt", attempt+1).
			Dur("retry_in", wait).Msg("patient fetch failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("fetch patient %s after %d attempts: %w", mrn, c.attempts, lastErr)
}

type chatRequest struct {
	Message string                  `json:"message"`
	Context *copilot.PatientContext `json:"context,omitempty"`
}

// Chat asks the copilot a question, optionally about a patient.
func (c *Client) Chat(ctx context.Context, message string, pc *copilot.PatientContext) (string, error) {
	var out struct {
		Response string `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/chat", chatRequest{Message: message, Context: pc}, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

type predictRequest struct {
	Patient      copilot.PatientContext `json:"patient"`
	ActiveLevers riskmodel.LeverState   `json:"activeLevers"`
}

// Predict asks for the post-intervention risk. A nil prediction with a nil
// error means the model had no answer and the caller should use the formula.
func (c *Client) Predict(ctx context.Context, pc copilot.PatientContext, levers riskmodel.LeverState) (*riskmodel.Prediction, error) {
	var out *riskmodel.Prediction
	if err := c.do(ctx, http.MethodPost, "/chat/predict", predictRequest{Patient: pc, ActiveLevers: levers}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyLevers evaluates a lever configuration on the server.
func (c *Client) ApplyLevers(ctx context.Context, levers riskmodel.LeverState, accessType string) (*riskmodel.WhatIf, error) {
	body := map[string]any{"levers": levers, "accessType": accessType}
	var out riskmodel.WhatIf
	if err := c.do(ctx, http.MethodPost, "/levers/apply", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
