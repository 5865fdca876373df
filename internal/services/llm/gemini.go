package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
)

// embedDimension is the vector size requested from the embedding model.
// The vector index schema is created with the same size, so changing this
// requires reindexing every collection.
const embedDimension = 768

// GeminiService implements completion and embedding operations using the
// Google Gemini API.
type GeminiService struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	limiter *rate.Limiter
	timeout time.Duration
}

var _ interfaces.LLMService = (*GeminiService)(nil)
var _ interfaces.Embedder = (*GeminiService)(nil)

// NewGeminiService creates a new Gemini service instance.
//
// Initialization includes:
//  1. Validating the API key is present
//  2. Setting default model names if not specified
//  3. Parsing the per-request timeout from configuration
//  4. Initializing the genai client
//
// The shared limiter paces requests across every caller of the service; pass
// nil to disable pacing.
func NewGeminiService(cfg *common.Config, limiter *rate.Limiter, logger arbor.ILogger) (*GeminiService, error) {
	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set EXCERPO_GEMINI_API_KEY or gemini.api_key in config)")
	}

	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-3-flash-preview"
	}
	if cfg.Gemini.EmbeddingModel == "" {
		cfg.Gemini.EmbeddingModel = "text-embedding-004"
	}

	timeout := common.ParseDurationOr(cfg.Gemini.Timeout, 2*time.Minute)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	service := &GeminiService{
		config:  &cfg.Gemini,
		logger:  logger,
		client:  client,
		limiter: limiter,
		timeout: timeout,
	}

	logger.Info().
		Str("model", cfg.Gemini.Model).
		Str("embedding_model", cfg.Gemini.EmbeddingModel).
		Int("embed_dimension", embedDimension).
		Dur("timeout", timeout).
		Msg("Gemini LLM service initialized")

	return service, nil
}

// Generate produces a single completion for the given prompt.
//
// Rate limits and transient provider outages are retried internally; the
// returned error reflects the final attempt. Output is returned with
// surrounding whitespace trimmed.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - prompt: Full prompt text including any document content
//
// Returns:
//   - string: Model output
//   - error: nil on success, error with details on failure
func (s *GeminiService) Generate(ctx context.Context, prompt string) (string, error) {
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

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(s.config.Temperature),
	}

	var resp *genai.GenerateContentResponse
	err := callWithRetry(timeoutCtx, s.logger, "gemini completion", func() error {
		var apiErr error
		resp, apiErr = s.client.Models.GenerateContent(timeoutCtx, s.config.Model, contents, config)
		return apiErr
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Int("prompt_length", len(prompt)).
			Msg("Completion failed")
		return "", fmt.Errorf("completion failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from Gemini API")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty text in Gemini response")
	}

	s.logger.Debug().
		Int("response_length", len(text)).
		Dur("duration", time.Since(startTime)).
		Msg("Completion finished")

	return text, nil
}

// Embed generates an embedding vector for the given text.
//
// The embedding model is asked for exactly embedDimension values so vectors
// stay compatible with the index schema. The vector can be used for semantic
// search, similarity comparison, and vector storage operations.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - text: Input text to generate an embedding for
//
// Returns:
//   - []float32: embedding vector of Dimension() values
//   - error: nil on success, error with details on failure
func (s *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatchLimit is the maximum number of inputs the Gemini batch
// embedding endpoint accepts in one request.
const embedBatchLimit = 100

// EmbedBatch generates embeddings for multiple texts. Inputs are sent in
// windows of at most embedBatchLimit per API call; the returned slice is
// parallel to texts.
func (s *GeminiService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty for embedding generation")
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text %d is empty", i)
		}
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchLimit {
		end := start + embedBatchLimit
		if end > len(texts) {
			end = len(texts)
		}
		window, err := s.embedWindow(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, window...)
	}
	return vectors, nil
}

func (s *GeminiService) embedWindow(ctx context.Context, texts []string) ([][]float32, error) {
	if err := waitForSlot(ctx, s.limiter); err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	outputDim := int32(embedDimension)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	var result *genai.EmbedContentResponse
	err := callWithRetry(timeoutCtx, s.logger, "gemini embedding", func() error {
		var apiErr error
		result, apiErr = s.client.Models.EmbedContent(timeoutCtx, s.config.EmbeddingModel, contents, embeddingConfig)
		return apiErr
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Int("text_count", len(texts)).
			Msg("Embedding generation failed")
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), got)
	}

	vectors := make([][]float32, len(texts))
	for i, embedding := range result.Embeddings {
		if len(embedding.Values) != embedDimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", embedDimension, len(embedding.Values))
		}
		vectors[i] = embedding.Values
	}

	s.logger.Debug().
		Int("text_count", len(texts)).
		Int("embedding_dim", embedDimension).
		Dur("duration", time.Since(startTime)).
		Msg("Embedding generation completed")

	return vectors, nil
}

// Dimension reports the vector size this embedder produces.
func (s *GeminiService) Dimension() int {
	return embedDimension
}

// Provider returns which backend this service talks to.
func (s *GeminiService) Provider() interfaces.LLMProvider {
	return interfaces.LLMProviderGemini
}

// HealthCheck verifies the service is operational with lightweight probes
// against both the embedding and completion models.
func (s *GeminiService) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("genai client is not initialized")
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	embedding, err := s.Embed(probeCtx, "health check probe")
	if err != nil {
		return fmt.Errorf("embedding probe failed: %w", err)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("embedding probe returned empty vector")
	}

	response, err := s.Generate(probeCtx, "ping")
	if err != nil {
		return fmt.Errorf("completion probe failed: %w", err)
	}
	if response == "" {
		return fmt.Errorf("completion probe returned empty response")
	}

	s.logger.Debug().
		Str("model", s.config.Model).
		Str("embedding_model", s.config.EmbeddingModel).
		Msg("Gemini health check passed")

	return nil
}

// Close releases the client reference. The genai client does not require
// explicit cleanup beyond this.
func (s *GeminiService) Close() error {
	s.client = nil
	return nil
}
