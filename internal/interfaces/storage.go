package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/excerpo/internal/models"
)

// ListOptions controls pagination and filtering for list queries.
type ListOptions struct {
	Status   string
	Limit    int
	Offset   int
	OrderBy  string // created_at, updated_at, name
	OrderDir string // asc, desc
}

// DocumentStorage persists source documents and their lifecycle state.
type DocumentStorage interface {
	SaveDocument(ctx context.Context, doc *models.SourceDocument) error
	GetDocument(ctx context.Context, id string) (*models.SourceDocument, error)
	GetDocumentByURI(ctx context.Context, sourceURI string) (*models.SourceDocument, error)
	ListDocuments(ctx context.Context, opts *ListOptions) ([]*models.SourceDocument, error)
	CountDocuments(ctx context.Context, status models.DocumentStatus) (int, error)
	DeleteDocument(ctx context.Context, id string) error

	// UpdateStatus applies a lifecycle transition, rejecting moves the
	// state machine does not allow.
	UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, detail string) error

	// ClaimPending atomically moves one PENDING document to PROCESSING and
	// returns it. Returns models.ErrNotFound when nothing is claimable.
	ClaimPending(ctx context.Context) (*models.SourceDocument, error)

	// ListStuck returns documents that have sat in the given status longer
	// than the cutoff, for the stale reaper.
	ListStuck(ctx context.Context, status models.DocumentStatus, olderThan time.Duration) ([]*models.SourceDocument, error)
}

// ChunkStorage persists the chunks produced by document ingestion.
type ChunkStorage interface {
	SaveChunks(ctx context.Context, chunks []*models.DocumentChunk) error
	GetChunks(ctx context.Context, documentID string) ([]*models.DocumentChunk, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
	DeleteChunks(ctx context.Context, documentID string) error
}

// CollectionStorage persists collections and collection membership.
type CollectionStorage interface {
	SaveCollection(ctx context.Context, col *models.Collection) error
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	GetCollectionByName(ctx context.Context, name string) (*models.Collection, error)
	ListCollections(ctx context.Context) ([]*models.Collection, error)
	DeleteCollection(ctx context.Context, id string) error

	SaveMembership(ctx context.Context, m *models.CollectionMembership) error
	GetMembership(ctx context.Context, collectionID, documentID string) (*models.CollectionMembership, error)
	ListMemberships(ctx context.Context, collectionID string) ([]*models.CollectionMembership, error)
	ListMembershipsByDocument(ctx context.Context, documentID string) ([]*models.CollectionMembership, error)
	DeleteMembership(ctx context.Context, collectionID, documentID string) error
	DeleteMembershipsByCollection(ctx context.Context, collectionID string) error
}

// MetadataStorage persists metadata groups, configurations, and the links
// between them.
type MetadataStorage interface {
	SaveGroup(ctx context.Context, group *models.MetadataGroup) error
	GetGroup(ctx context.Context, id string) (*models.MetadataGroup, error)
	GetGroupByName(ctx context.Context, name string) (*models.MetadataGroup, error)
	GetDefaultGroup(ctx context.Context) (*models.MetadataGroup, error)
	ListGroups(ctx context.Context) ([]*models.MetadataGroup, error)
	DeleteGroup(ctx context.Context, id string) error

	SaveConfiguration(ctx context.Context, cfg *models.MetadataConfiguration) error
	GetConfiguration(ctx context.Context, id string) (*models.MetadataConfiguration, error)
	GetConfigurationByName(ctx context.Context, name string) (*models.MetadataConfiguration, error)
	ListConfigurations(ctx context.Context) ([]*models.MetadataConfiguration, error)
	DeleteConfiguration(ctx context.Context, id string) error

	SaveLink(ctx context.Context, link *models.GroupConfigLink) error
	GetLink(ctx context.Context, groupID, configID string) (*models.GroupConfigLink, error)
	ListLinksByGroup(ctx context.Context, groupID string) ([]*models.GroupConfigLink, error)
	ListLinksByConfig(ctx context.Context, configID string) ([]*models.GroupConfigLink, error)
	DeleteLink(ctx context.Context, groupID, configID string) error
	DeleteLinksByGroup(ctx context.Context, groupID string) error
}

// JobStorage persists indexing and extraction jobs.
type JobStorage interface {
	SaveIndexingJob(ctx context.Context, job *models.IndexingJob) error
	GetIndexingJob(ctx context.Context, id string) (*models.IndexingJob, error)
	ListIndexingJobs(ctx context.Context, collectionID string, opts *ListOptions) ([]*models.IndexingJob, error)

	SaveExtractionJob(ctx context.Context, job *models.ExtractionJob) error
	GetExtractionJob(ctx context.Context, id string) (*models.ExtractionJob, error)
	ListExtractionJobs(ctx context.Context, collectionID string, opts *ListOptions) ([]*models.ExtractionJob, error)
}

// ExtractedStorage persists per-field extraction results.
type ExtractedStorage interface {
	SaveExtracted(ctx context.Context, rec *models.ExtractedMetadata) error
	GetExtracted(ctx context.Context, collectionID, documentID, groupID, metadataName string) (*models.ExtractedMetadata, error)
	ListExtracted(ctx context.Context, collectionID, documentID string) ([]*models.ExtractedMetadata, error)
	ListExtractedByJob(ctx context.Context, jobID string) ([]*models.ExtractedMetadata, error)
	DeleteExtracted(ctx context.Context, collectionID, documentID string) error
	DeleteExtractedByName(ctx context.Context, metadataName string) error
}

// StorageManager aggregates the per-entity storages over one database.
type StorageManager interface {
	DocumentStorage() DocumentStorage
	ChunkStorage() ChunkStorage
	CollectionStorage() CollectionStorage
	MetadataStorage() MetadataStorage
	JobStorage() JobStorage
	ExtractedStorage() ExtractedStorage
	Close() error
}
