package llm

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
)

// NewService builds the completion service for the configured provider plus
// the embedder used during indexing. Embeddings always come from Gemini, so
// a Gemini key is required even when Claude handles completions.
func NewService(cfg *common.Config, logger arbor.ILogger) (interfaces.LLMService, interfaces.Embedder, error) {
	limiter := newRequestLimiter(cfg.LLM.RequestsPerMinute)

	gemini, err := NewGeminiService(cfg, limiter, logger)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.LLM.DefaultProvider {
	case common.LLMProviderClaude:
		claude, err := NewClaudeService(cfg, limiter, logger)
		if err != nil {
			return nil, nil, err
		}
		return claude, gemini, nil
	default:
		return gemini, gemini, nil
	}
}

// newRequestLimiter builds the shared pacer for outbound provider calls.
// Zero or negative disables pacing.
func newRequestLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

func waitForSlot(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
