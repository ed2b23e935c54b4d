// Package llm is a small client for OpenAI-compatible chat completion APIs.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("llm: API key not configured")
	// ErrEmptyResponse is returned when the completion carries no choices.
	ErrEmptyResponse = errors.New("llm: empty completion")
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request. A nil Temperature uses the provider default.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatChoice struct {
	Message Message `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client calls POST {BaseURL}/chat/completions. It does not retry.
type Client struct {
	http   *resty.Client
	apiKey string
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		apiKey: cfg.APIKey,
		logger: logger.With().Str("component", "llm").Logger(),
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// System and User build chat messages.
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// Temperature returns a pointer for Request.Temperature.
func Temperature(t float64) *float64 { return &t }

// Complete sends req and returns the content of the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	start := time.Now()
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("call chat completions: %w", err)
	}

	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		c.logger.Warn().
			Int("status", resp.StatusCode()).
			Str("model", req.Model).
			Str("error", msg).
			Msg("chat completion rejected")
		return "", fmt.Errorf("chat completions returned %d: %s", resp.StatusCode(), msg)
	}

	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	c.logger.Debug().
		Str("model", req.Model).
		Dur("latency", time.Since(start)).
		Int("chars", len(out.Choices[0].Message.Content)).
		Msg("chat completion")

	return out.Choices[0].Message.Content, nil
}

// StripFences removes markdown code fences (```json and ```) that models
// often wrap JSON answers in.
func StripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// DecodeJSON strips fences from content and decodes it into v.
func DecodeJSON(content string, v any) error {
	if err := json.Unmarshal([]byte(StripFences(content)), v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}
