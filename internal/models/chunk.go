package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentChunk is one summarized unit of a document. Created during
// ingestion, immutable thereafter. The embedding of Summary lives in the
// vector index under an id tied to the chunk, never in the relational store.
type DocumentChunk struct {
	ID         string `json:"id"` // chk_{uuid}
	DocumentID string `json:"document_id" badgerhold:"index"`
	ChunkIndex int    `json:"chunk_index"` // ordinal within the document

	Title         string                 `json:"title"`
	Summary       string                 `json:"summary"`
	OriginalText  string                 `json:"original_text"`
	HasTable      bool                   `json:"has_table"`
	ChunkMetadata map[string]interface{} `json:"chunk_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewDocumentChunk creates a chunk for the given document position.
func NewDocumentChunk(documentID string, index int, originalText string, hasTable bool) *DocumentChunk {
	return &DocumentChunk{
		ID:           fmt.Sprintf("chk_%s", uuid.New().String()),
		DocumentID:   documentID,
		ChunkIndex:   index,
		OriginalText: originalText,
		HasTable:     hasTable,
		CreatedAt:    time.Now(),
	}
}

// Key returns the storage key for the chunk, composite over document and
// ordinal so per-document ordering is a prefix scan.
func (c *DocumentChunk) Key() string {
	return fmt.Sprintf("%s/%06d", c.DocumentID, c.ChunkIndex)
}
