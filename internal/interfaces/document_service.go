package interfaces

import (
	"context"

	"github.com/ternarybob/excerpo/internal/models"
)

// DocumentService handles source document registration and lifecycle
// operations. Uploaded and URI-registered documents start PENDING and are
// picked up by the ingestion workers.
type DocumentService interface {
	// Upload stores raw bytes in the blob store and registers a PENDING
	// document pointing at them.
	Upload(ctx context.Context, fileName string, data []byte, displayName, entityLabel string) (*models.SourceDocument, error)

	// Register creates a PENDING document for content that already lives
	// at a fetchable URI (file, http, https, github).
	Register(ctx context.Context, sourceURI, displayName, entityLabel string) (*models.SourceDocument, error)

	// Get returns a document by ID.
	Get(ctx context.Context, id string) (*models.SourceDocument, error)

	// List returns documents with pagination and optional status filter.
	List(ctx context.Context, opts *ListOptions) ([]*models.SourceDocument, error)

	// Status returns the poll view used by upload clients.
	Status(ctx context.Context, id string) (*models.StatusResponse, error)

	// Reprocess moves a FAILED document back to PENDING so ingestion
	// picks it up again.
	Reprocess(ctx context.Context, id string) error

	// Chunks returns the stored chunks for a document in order.
	Chunks(ctx context.Context, id string) ([]*models.DocumentChunk, error)

	// Preview renders the document's chunk markdown as HTML.
	Preview(ctx context.Context, id string) (string, error)

	// Delete removes the document, its chunks, memberships, extracted
	// metadata, and vector points.
	Delete(ctx context.Context, id string) error
}
