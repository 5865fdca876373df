package interfaces

import "context"

// LLMProvider identifies which backend serves completion requests.
type LLMProvider string

const (
	LLMProviderGemini LLMProvider = "gemini"
	LLMProviderClaude LLMProvider = "claude"
)

// LLMService defines completion operations against a language model.
// Implementations wrap a cloud provider and handle rate limiting and
// transient-failure retry internally.
type LLMService interface {
	// Generate produces a single completion for the given prompt.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - prompt: Full prompt text including any document content
	//
	// Returns:
	//   - string: Model output with surrounding whitespace trimmed
	//   - error: Error if the request fails after retries
	Generate(ctx context.Context, prompt string) (string, error)

	// Provider returns which backend this service talks to.
	Provider() LLMProvider

	// HealthCheck verifies the provider is reachable and authenticated.
	HealthCheck(ctx context.Context) error

	// Close releases any held connections.
	Close() error
}

// Embedder produces fixed-dimension embedding vectors for text.
type Embedder interface {
	// Embed generates one embedding vector for the given text. The vector
	// dimension matches Dimension().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the vector size this embedder produces.
	Dimension() int
}
