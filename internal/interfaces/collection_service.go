package interfaces

import (
	"context"

	"github.com/ternarybob/excerpo/internal/models"
)

// CollectionService manages collections and their document memberships.
type CollectionService interface {
	Create(ctx context.Context, name, description, createdBy string) (*models.Collection, error)
	Get(ctx context.Context, id string) (*models.Collection, error)
	GetByName(ctx context.Context, name string) (*models.Collection, error)
	List(ctx context.Context) ([]*models.Collection, error)

	// Delete removes the collection, its memberships, and its vector index.
	Delete(ctx context.Context, id string) error

	// AddDocuments joins documents to the collection with pending membership
	// status and returns the number of memberships created. Documents already
	// in the collection are skipped; unknown document IDs fail the whole call
	// before any membership is written.
	AddDocuments(ctx context.Context, collectionID string, documentIDs []string) (int, error)

	// RemoveDocument drops the membership and the document's points from
	// the collection's vector index.
	RemoveDocument(ctx context.Context, collectionID, documentID string) error

	// Memberships lists the collection's per-document indexing state.
	Memberships(ctx context.Context, collectionID string) ([]*models.CollectionMembership, error)

	// EnsureDefault creates the default collection on first boot.
	EnsureDefault(ctx context.Context) (*models.Collection, error)
}
