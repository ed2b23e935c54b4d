// Package copilot connects the dashboard to a chat-completion model: the
// patient chat, AI risk analysis and recommendations for the detail view,
// and intervention impact prediction for the what-if levers.
package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/renalsim/renalsim/internal/domain/riskmodel"
	"github.com/renalsim/renalsim/internal/platform/cache"
	"github.com/renalsim/renalsim/internal/platform/llm"
)

// ErrEmptyMessage is returned for a chat request without a message.
var ErrEmptyMessage = errors.New("message is required")

const (
	DefaultChatModel     = "llama-3.3-70b-versatile"
	DefaultAnalysisModel = "llama-3.1-8b-instant"
)

// Completer is the chat-completion client the service depends on.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
	Configured() bool
}

type Config struct {
	ChatModel     string
	AnalysisModel string
	// CacheTTL bounds how long analysis results are reused. Zero disables
	// caching.
	CacheTTL time.Duration
}

type Service struct {
	llm    Completer
	cache  cache.KVStore
	cfg    Config
	model  riskmodel.Model
	logger zerolog.Logger
}

// NewService creates the copilot. kv may be nil.
func NewService(c Completer, kv cache.KVStore, cfg Config, logger zerolog.Logger) *Service {
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = DefaultAnalysisModel
	}
	return &Service{
		llm:    c,
		cache:  kv,
		cfg:    cfg,
		model:  riskmodel.NewModel(),
		logger: logger.With().Str("component", "copilot").Logger(),
	}
}

// Configured reports whether a model can be called.
func (s *Service) Configured() bool {
	return s.llm != nil && s.llm.Configured()
}

// Chat answers a clinician's question about one patient.
func (s *Service) Chat(ctx context.Context, message string, pc *PatientContext) (string, error) {
	if !s.Configured() {
		return "", llm.ErrNotConfigured
	}
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	answer, err := s.llm.Complete(ctx, llm.Request{
		Model:    s.cfg.ChatModel,
		Messages: []llm.Message{llm.System(ChatPrompt(pc)), llm.User(message)},
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("chat completion failed")
		return "", err
	}
	return answer, nil
}

// Model returns the deterministic lever model.
func (s *Service) Model() riskmodel.Model {
	return s.model
}

// analyze sends system plus the indented JSON of input to the analysis model.
func (s *Service) analyze(ctx context.Context, system string, input any, temperature float64) (string, error) {
	if !s.Configured() {
		return "", llm.ErrNotConfigured
	}
	user, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode model input: %w", err)
	}
	return s.llm.Complete(ctx, llm.Request{
		Model:       s.cfg.AnalysisModel,
		Messages:    []llm.Message{llm.System(system), llm.User(string(user))},
		Temperature: llm.Temperature(temperature),
	})
}

// cached returns the stored result for (namespace, inputs) or computes and
// stores it. Cache failures are logged and never fail the call.
func cached[T any](ctx context.Context, s *Service, namespace string, compute func() (T, error), inputs ...any) (T, error) {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return compute()
	}
	key, err := cache.Key(namespace, append([]any{s.cfg.AnalysisModel}, inputs...)...)
	if err != nil {
		return compute()
	}

	var hit T
	switch err := cache.GetJSON(ctx, s.cache, key, &hit); {
	case err == nil:
		s.logger.Debug().Str("key", key).Msg("AI cache hit")
		return hit, nil
	case !errors.Is(err, cache.ErrCacheMiss):
		s.logger.Warn().Err(err).Str("key", key).Msg("AI cache read failed")
	}

	out, err := compute()
	if err != nil {
		return out, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, out, s.cfg.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("AI cache write failed")
	}
	return out, nil
}
