package interfaces

import (
	"context"

	"github.com/ternarybob/excerpo/internal/models"
)

// DocumentMetadataGroup is the read view of extracted metadata for one
// document, grouped by the metadata group that produced it.
type DocumentMetadataGroup struct {
	GroupID   string                      `json:"group_id"`
	GroupName string                      `json:"group_name"`
	Values    []*models.ExtractedMetadata `json:"values"`
}

// ExtractedFilter narrows a ListExtracted query. Zero-value fields match
// everything in the collection.
type ExtractedFilter struct {
	DocumentID   string
	GroupID      string
	MetadataName string
}

// MetadataService manages metadata groups, configurations, the links
// between them, and reads of extracted values.
type MetadataService interface {
	// Groups
	CreateGroup(ctx context.Context, group *models.MetadataGroup) error
	GetGroup(ctx context.Context, id string) (*models.MetadataGroup, error)
	ListGroups(ctx context.Context) ([]*models.MetadataGroup, error)
	UpdateGroup(ctx context.Context, group *models.MetadataGroup) error
	DeleteGroup(ctx context.Context, id string) error

	// CloneGroup copies a group under a new name, including its
	// configuration links at their existing display positions.
	CloneGroup(ctx context.Context, groupID, newName, createdBy string) (*models.MetadataGroup, error)

	// Configurations. Creation requires at least one target group so no
	// configuration is ever orphaned.
	CreateConfiguration(ctx context.Context, cfg *models.MetadataConfiguration, groupIDs []string) error
	GetConfiguration(ctx context.Context, id string) (*models.MetadataConfiguration, error)
	ListConfigurations(ctx context.Context) ([]*models.MetadataConfiguration, error)
	UpdateConfiguration(ctx context.Context, cfg *models.MetadataConfiguration) error
	DeleteConfiguration(ctx context.Context, id string) error

	// Links
	LinkConfiguration(ctx context.Context, groupID, configID, addedBy string) error
	UnlinkConfiguration(ctx context.Context, groupID, configID string) error

	// ReorderConfiguration moves a linked configuration to newOrder within
	// its group, shifting the links in between by one position.
	ReorderConfiguration(ctx context.Context, groupID, configID string, newOrder int) error

	// GroupConfigurations returns the group's linked configurations in
	// display order.
	GroupConfigurations(ctx context.Context, groupID string) ([]*models.MetadataConfiguration, error)

	// ListExtracted returns a collection's extracted values as flat rows,
	// optionally narrowed by document, group, or metadata name.
	ListExtracted(ctx context.Context, collectionID string, filter ExtractedFilter) ([]*models.ExtractedMetadata, error)

	// DocumentMetadata returns extracted values for one document in one
	// collection, grouped by metadata group.
	DocumentMetadata(ctx context.Context, collectionID, documentID string) ([]*DocumentMetadataGroup, error)

	// DeleteDocumentMetadata removes all extracted values for a document
	// in a collection.
	DeleteDocumentMetadata(ctx context.Context, collectionID, documentID string) error

	// EnsureDefaultGroup creates the built-in default group on first boot.
	EnsureDefaultGroup(ctx context.Context) (*models.MetadataGroup, error)
}
