package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/ternarybob/excerpo/internal/services/llm"
	"github.com/ternarybob/excerpo/internal/services/vector"
)

const defaultSearchLimit = 25

const rewritePrompt = `Rewrite the following extraction instruction as a single natural-language question.
The question must cover every fact the instruction asks for so it can retrieve the relevant passages.
Respond with the question only.

## Field

%s

## Instruction

%s`

const extractionPrompt = `Extract the value of the field "%s" from the document excerpts below.
%s
Respond with only the extracted value, nothing else. If the excerpts do not contain the value, respond with exactly: Not Found

## Field instruction

%s

## Document excerpts

%s`

// Executor resolves one metadata configuration against one document. The
// vector search is constrained to the document's own points, so retrieval
// never leaks content across documents in the collection.
type Executor struct {
	llm         interfaces.LLMService
	embedder    interfaces.Embedder
	vectors     interfaces.VectorIndex
	chunks      interfaces.ChunkStorage
	searchLimit int
	logger      arbor.ILogger
}

var _ interfaces.FieldExtractor = (*Executor)(nil)

func NewExecutor(
	cfg *common.Config,
	llmService interfaces.LLMService,
	embedder interfaces.Embedder,
	vectors interfaces.VectorIndex,
	chunks interfaces.ChunkStorage,
	logger arbor.ILogger,
) *Executor {
	limit := cfg.Extraction.SearchLimit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return &Executor{
		llm:         llmService,
		embedder:    embedder,
		vectors:     vectors,
		chunks:      chunks,
		searchLimit: limit,
		logger:      logger,
	}
}

// ExtractValue returns the extracted field value, or a sentinel. When the
// error is non-nil the document counts as failed; a sentinel may still
// accompany it so the failure is visible in the stored results.
func (e *Executor) ExtractValue(ctx context.Context, collection *models.Collection, doc *models.SourceDocument, cfg *models.MetadataConfiguration) (string, error) {
	query := e.rewriteQuery(ctx, cfg)

	queryVector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if llm.IsUnavailableError(err) {
			return models.ValueServiceUnavailable, fmt.Errorf("query embedding unavailable: %w", err)
		}
		return "", fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := e.vectors.Search(ctx, collection.VectorIndexName, queryVector, doc.DisplayName, e.searchLimit)
	if err != nil {
		return "", fmt.Errorf("vector search failed: %w", err)
	}

	excerpts, err := e.assembleExcerpts(ctx, doc, hits)
	if err != nil {
		return "", err
	}
	if excerpts == "" {
		e.logger.Warn().
			Str("document_id", doc.ID).
			Str("configuration", cfg.Name).
			Msg("No retrievable content for extraction")
		return models.ValueNotFound, nil
	}

	prompt := fmt.Sprintf(extractionPrompt, cfg.Name, dataTypeHint(cfg.DataType), cfg.ExtractionPrompt, excerpts)
	answer, err := e.llm.Generate(ctx, prompt)
	if err != nil {
		if llm.IsUnavailableError(err) {
			return models.ValueServiceUnavailable, fmt.Errorf("extraction unavailable: %w", err)
		}
		return "", fmt.Errorf("extraction failed: %w", err)
	}

	value := e.applyValidation(cfg, normalizeValue(answer))

	e.logger.Debug().
		Str("document_id", doc.ID).
		Str("configuration", cfg.Name).
		Int("hits", len(hits)).
		Str("value", value).
		Msg("Field extracted")
	return value, nil
}

// rewriteQuery asks the model for a retrieval question covering the prompt's
// facets. Any failure falls back to the raw prompt.
func (e *Executor) rewriteQuery(ctx context.Context, cfg *models.MetadataConfiguration) string {
	question, err := e.llm.Generate(ctx, fmt.Sprintf(rewritePrompt, cfg.Name, cfg.ExtractionPrompt))
	question = strings.TrimSpace(question)
	if err != nil || question == "" {
		e.logger.Warn().
			Err(err).
			Str("configuration", cfg.Name).
			Msg("Query rewrite failed, using raw prompt")
		return cfg.ExtractionPrompt
	}
	return question
}

// assembleExcerpts joins the hit chunks' original text in retrieval order.
// Original text rather than summaries: extraction needs exact figures, and
// tables were kept whole at chunking time.
func (e *Executor) assembleExcerpts(ctx context.Context, doc *models.SourceDocument, hits []interfaces.SearchHit) (string, error) {
	if len(hits) == 0 {
		return "", nil
	}

	chunks, err := e.chunks.GetChunks(ctx, doc.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load chunks for %s: %w", doc.ID, err)
	}
	byID := make(map[string]*models.DocumentChunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}

	var sb strings.Builder
	n := 0
	for _, hit := range hits {
		chunkID, _ := hit.Payload[vector.PayloadChunkID].(string)
		chunk := byID[chunkID]
		if chunk == nil {
			// Stale point from before a reprocess; the text is gone.
			continue
		}
		n++
		fmt.Fprintf(&sb, "## Excerpt %d: %s\n\n%s\n\n", n, chunk.Title, chunk.OriginalText)
	}
	return strings.TrimSpace(sb.String()), nil
}

// applyValidation enforces the configuration's regex. Sentinels pass through
// so a Not Found never turns into Invalid Format.
func (e *Executor) applyValidation(cfg *models.MetadataConfiguration, value string) string {
	if models.IsSentinelValue(value) {
		return value
	}
	pattern, ok := cfg.ValidationRules.Regex()
	if !ok {
		return value
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("configuration", cfg.Name).
			Msg("Validation regex does not compile, skipping validation")
		return value
	}
	if re.MatchString(value) {
		return value
	}
	if def, ok := cfg.ValidationRules.Default(); ok {
		return def
	}
	return models.ValueInvalidFormat
}

var newlineRuns = regexp.MustCompile(`\s*\n+\s*`)

// normalizeValue cleans model output into a single-line value. Anything
// mentioning Not Found, and anything shorter than two characters, becomes
// exactly the Not Found sentinel.
func normalizeValue(raw string) string {
	value := strings.ReplaceAll(raw, "\r", "")
	value = newlineRuns.ReplaceAllString(value, " ")
	value = strings.TrimSpace(value)
	if strings.Contains(value, models.ValueNotFound) {
		return models.ValueNotFound
	}
	if utf8.RuneCountInString(value) < 2 {
		return models.ValueNotFound
	}
	return value
}

func dataTypeHint(dataType models.DataType) string {
	switch dataType {
	case models.DataTypeNumber:
		return "The value is a number; respond with the number only."
	case models.DataTypeDate:
		return "The value is a date; respond in YYYY-MM-DD form when the document allows it."
	case models.DataTypeBoolean:
		return "The value is a yes/no fact; respond with true or false."
	default:
		return "The value is free text; keep it concise."
	}
}
