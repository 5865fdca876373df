package interfaces

import (
	"context"

	"github.com/ternarybob/excerpo/internal/models"
)

// Summarizer fills in chunk titles and summaries ahead of embedding.
// Implementations fan out over the chunks with bounded concurrency and
// never fail the batch: a chunk whose enrichment fails gets fallback
// values instead.
type Summarizer interface {
	SummarizeChunks(ctx context.Context, doc *models.SourceDocument, chunks []*models.DocumentChunk) error
}

// FieldExtractor resolves one metadata configuration against one document,
// returning the extracted value or a sentinel string for the failure cases.
type FieldExtractor interface {
	ExtractValue(ctx context.Context, collection *models.Collection, doc *models.SourceDocument, cfg *models.MetadataConfiguration) (string, error)
}
