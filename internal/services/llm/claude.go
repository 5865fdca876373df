package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
)

// ClaudeService implements completion operations using the Anthropic API.
// Anthropic has no embedding endpoint, so embeddings always come from the
// Gemini service regardless of the configured completion provider.
type ClaudeService struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    anthropic.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	maxTokens int
}

var _ interfaces.LLMService = (*ClaudeService)(nil)

// NewClaudeService creates a new Claude service instance.
func NewClaudeService(cfg *common.Config, limiter *rate.Limiter, logger arbor.ILogger) (*ClaudeService, error) {
	if cfg.Claude.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set EXCERPO_CLAUDE_API_KEY or claude.api_key in config)")
	}

	if cfg.Claude.Model == "" {
		cfg.Claude.Model = "claude-haiku-3-5-20241022"
	}

	maxTokens := cfg.Claude.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	timeout := common.ParseDurationOr(cfg.Claude.Timeout, 2*time.Minute)

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.Claude.APIKey),
	)

	service := &ClaudeService{
		config:    &cfg.Claude,
		logger:    logger,
		client:    client,
		limiter:   limiter,
		timeout:   timeout,
		maxTokens: maxTokens,
	}

	logger.Info().
		Str("model", cfg.Claude.Model).
		Int("max_tokens", maxTokens).
		Dur("timeout", timeout).
		Float32("temperature", cfg.Claude.Temperature).
		Msg("Claude LLM service initialized")

	return service, nil
}

// Generate produces a single completion for the given prompt. Rate limits
// and transient overloads are retried internally; output is returned with
// surrounding whitespace trimmed.
func (s *ClaudeService) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	if err := waitForSlot(ctx, s.limiter); err != nil {
		return "", err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Debug().
		Int("prompt_length", len(prompt)).
		Str("model", s.config.Model).
		Msg("Starting completion")

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.config.Model),
		MaxTokens: int64(s.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if s.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.config.Temperature))
	}

	var resp *anthropic.Message
	err := callWithRetry(timeoutCtx, s.logger, "claude completion", func() error {
		var apiErr error
		resp, apiErr = s.client.Messages.New(timeoutCtx, params)
		return apiErr
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Int("prompt_length", len(prompt)).
			Msg("Completion failed")
		return "", fmt.Errorf("completion failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Claude API")
	}

	s.logger.Debug().
		Int("response_length", text.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Completion finished")

	return strings.TrimSpace(text.String()), nil
}

// Provider returns which backend this service talks to.
func (s *ClaudeService) Provider() interfaces.LLMProvider {
	return interfaces.LLMProviderClaude
}

// HealthCheck verifies the provider is reachable with a minimal probe.
func (s *ClaudeService) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.Generate(probeCtx, "ping")
	if err != nil {
		return fmt.Errorf("Claude probe failed: %w", err)
	}
	if response == "" {
		return fmt.Errorf("Claude probe returned empty response")
	}

	s.logger.Debug().
		Str("model", s.config.Model).
		Msg("Claude health check passed")

	return nil
}

// Close releases resources. The Claude client does not require explicit
// cleanup.
func (s *ClaudeService) Close() error {
	s.client = anthropic.Client{}
	return nil
}
