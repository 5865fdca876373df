// -----------------------------------------------------------------------
// Summarizer - Enriches document chunks with titles and summaries
// Bounded fan-out per document; failures fall back without failing ingestion
// -----------------------------------------------------------------------

package summarizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// fallbackTitle is used when no heading exists and title generation fails.
const fallbackTitle = "Untitled Chunk"

const summaryPrompt = `Summarize the following document section in no more than 200 words.
Capture the key facts, figures, dates, and named entities so the summary can stand in for the section during retrieval.
Respond with the summary only.

## Section

%s`

const tableSummaryPrompt = `Summarize the following document section in no more than 200 words.
The section contains one or more tables. Preserve what each table reports, its key rows, and notable values.
Respond with the summary only.

## Section

%s`

const titlePrompt = `Generate a title of 3 to 7 words for the following document section.
Respond with the title only, without quotes or trailing punctuation.

## Section

%s`

// Service enriches chunks with titles and summaries ahead of embedding.
type Service struct {
	llm     interfaces.LLMService
	workers int
	logger  arbor.ILogger
}

var _ interfaces.Summarizer = (*Service)(nil)

// NewService creates the summarizer with the configured per-document
// concurrency bound.
func NewService(cfg *common.Config, llm interfaces.LLMService, logger arbor.ILogger) *Service {
	workers := cfg.Ingestion.SummaryWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Service{
		llm:     llm,
		workers: workers,
		logger:  logger,
	}
}

// chunkSummary carries one chunk's enrichment result through the fan-out.
type chunkSummary struct {
	title    string
	summary  string
	fellBack bool
}

// SummarizeChunks fills Title and Summary on every chunk. Chunks are
// processed concurrently up to the worker bound and results land back in
// chunk order. A chunk whose enrichment fails gets fallback values; only
// context cancellation aborts the batch.
func (s *Service) SummarizeChunks(ctx context.Context, doc *models.SourceDocument, chunks []*models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	startTime := time.Now()
	results := make([]chunkSummary, len(chunks))
	var wg sync.WaitGroup

	// Semaphore for concurrency control
	sem := make(chan struct{}, s.workers)

	for i, chunk := range chunks {
		wg.Add(1)
		go func(idx int, c *models.DocumentChunk) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = s.summarizeChunk(ctx, c)
		}(i, chunk)
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	fallbacks := 0
	for i, chunk := range chunks {
		chunk.Title = results[i].title
		chunk.Summary = results[i].summary
		if results[i].fellBack {
			fallbacks++
		}
	}

	event := s.logger.Info()
	if fallbacks > 0 {
		event = s.logger.Warn()
	}
	event.
		Str("document_id", doc.ID).
		Int("chunk_count", len(chunks)).
		Int("fallback_count", fallbacks).
		Dur("duration", time.Since(startTime)).
		Msg("Chunk summarization completed")

	return nil
}

// summarizeChunk enriches a single chunk. It never returns an error: any
// failure produces fallback values so one bad chunk cannot sink the
// document.
func (s *Service) summarizeChunk(ctx context.Context, chunk *models.DocumentChunk) chunkSummary {
	result := chunkSummary{
		title:   fallbackTitle,
		summary: chunk.OriginalText,
	}

	if ctx.Err() != nil {
		result.fellBack = true
		return result
	}

	if title := headingTitle(chunk.OriginalText); title != "" {
		result.title = title
	} else {
		generated, err := s.llm.Generate(ctx, fmt.Sprintf(titlePrompt, chunk.OriginalText))
		if title := sanitizeTitle(generated); err == nil && title != "" {
			result.title = title
		} else {
			result.fellBack = true
			s.logger.Warn().
				Err(err).
				Str("chunk_id", chunk.ID).
				Int("chunk_index", chunk.ChunkIndex).
				Msg("Title generation failed, using fallback")
		}
	}

	prompt := summaryPrompt
	if chunk.HasTable {
		prompt = tableSummaryPrompt
	}

	summary, err := s.llm.Generate(ctx, fmt.Sprintf(prompt, chunk.OriginalText))
	if err != nil || strings.TrimSpace(summary) == "" {
		result.fellBack = true
		s.logger.Warn().
			Err(err).
			Str("chunk_id", chunk.ID).
			Int("chunk_index", chunk.ChunkIndex).
			Msg("Summary generation failed, falling back to raw text")
		return result
	}

	result.summary = strings.TrimSpace(summary)
	return result
}

// headingTitle extracts a markdown heading from the first five lines of the
// chunk, if one exists.
func headingTitle(text string) string {
	lines := strings.SplitN(text, "\n", 6)
	if len(lines) > 5 {
		lines = lines[:5]
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		stripped := strings.TrimLeft(trimmed, "#")
		// Hashtags and bare marker lines are not headings.
		if stripped == "" || !strings.HasPrefix(stripped, " ") {
			continue
		}
		if title := strings.TrimSpace(stripped); title != "" {
			return title
		}
	}
	return ""
}

// sanitizeTitle normalizes model output down to a single clean line.
func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.Trim(title, "\"'`")
	return strings.TrimSpace(title)
}
