package interfaces

import (
	"context"

	"github.com/ternarybob/excerpo/internal/models"
)

// DocumentChunker converts fetched document bytes into ordered markdown
// chunks. An empty result means the source had no extractable content.
type DocumentChunker interface {
	Chunk(ctx context.Context, documentID string, blob *BlobResult) ([]*models.DocumentChunk, error)
}
