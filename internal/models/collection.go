package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IndexingStatus is the per-collection indexing state of one membership.
type IndexingStatus string

const (
	IndexingStatusPending  IndexingStatus = "pending"
	IndexingStatusIndexing IndexingStatus = "indexing"
	IndexingStatusIndexed  IndexingStatus = "indexed"
	IndexingStatusFailed   IndexingStatus = "failed"
)

// DefaultCollectionName is the bootstrap collection every uploaded document
// joins, so a plain upload reaches READY with points in a real index.
const DefaultCollectionName = "Default"

// Collection is a user-curated set of source documents with its own vector
// index. VectorIndexName is unique across collections and immutable once set.
type Collection struct {
	ID          string `json:"id"` // col_{uuid}
	Name        string `json:"name" badgerhold:"index"`
	Description string `json:"description,omitempty"`

	// Derived on first indexing job; 1:1 with a vector-store collection.
	VectorIndexName string `json:"vector_index_name,omitempty" badgerhold:"index"`

	IndexingStats IndexingStats `json:"indexing_stats"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IndexingStats are cumulative counters maintained by the indexing worker.
type IndexingStats struct {
	TotalDocuments   int        `json:"total_documents"`
	IndexedDocuments int        `json:"indexed_documents"`
	FailedDocuments  int        `json:"failed_documents"`
	TotalPoints      int        `json:"total_points"`
	LastIndexedAt    *time.Time `json:"last_indexed_at,omitempty"`
}

// NewCollection creates an empty collection.
func NewCollection(name, description, createdBy string) *Collection {
	now := time.Now()
	return &Collection{
		ID:          fmt.Sprintf("col_%s", uuid.New().String()),
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CollectionMembership associates one document with one collection and
// carries that pair's independent indexing state. A document may belong to
// many collections, each membership indexed separately.
type CollectionMembership struct {
	CollectionID string `json:"collection_id" badgerhold:"index"`
	DocumentID   string `json:"document_id" badgerhold:"index"`

	IndexingStatus   IndexingStatus `json:"indexing_status"`
	IndexingProgress int            `json:"indexing_progress"` // 0-100
	IndexedAt        *time.Time     `json:"indexed_at,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	VectorPointID    string         `json:"vector_point_id,omitempty"` // opaque handle into the vector store

	AddedAt time.Time `json:"added_at"`
}

// NewCollectionMembership creates a pending membership.
func NewCollectionMembership(collectionID, documentID string) *CollectionMembership {
	return &CollectionMembership{
		CollectionID:   collectionID,
		DocumentID:     documentID,
		IndexingStatus: IndexingStatusPending,
		AddedAt:        time.Now(),
	}
}

// Key returns the composite storage key (collection_id, document_id).
func (m *CollectionMembership) Key() string {
	return fmt.Sprintf("%s/%s", m.CollectionID, m.DocumentID)
}
