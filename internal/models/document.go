package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of a source document.
type DocumentStatus string

const (
	DocumentStatusPending        DocumentStatus = "PENDING"
	DocumentStatusProcessing     DocumentStatus = "PROCESSING"
	DocumentStatusDocumentStored DocumentStatus = "DOCUMENT_STORED"
	DocumentStatusIndexing       DocumentStatus = "INDEXING"
	DocumentStatusReady          DocumentStatus = "READY"
	DocumentStatusFailed         DocumentStatus = "FAILED"
)

// documentTransitions is the full transition table for the document
// lifecycle. READY is only reachable through INDEXING; terminal states are
// left only by explicit user action (reprocess, reindex).
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentStatusPending:        {DocumentStatusProcessing},
	DocumentStatusProcessing:     {DocumentStatusDocumentStored, DocumentStatusFailed},
	DocumentStatusDocumentStored: {DocumentStatusIndexing},
	DocumentStatusIndexing:       {DocumentStatusReady, DocumentStatusFailed},
	DocumentStatusReady:          {DocumentStatusIndexing},
	DocumentStatusFailed:         {DocumentStatusPending},
}

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	_, ok := documentTransitions[s]
	return ok
}

// IsTerminal reports whether s is a resting state that requires user action
// to leave.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusReady || s == DocumentStatusFailed
}

// CanTransitionTo reports whether the transition s -> next is allowed.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	for _, allowed := range documentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error when from -> to is not an edge of the
// lifecycle graph.
func ValidateTransition(from, to DocumentStatus) error {
	if !from.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// SourceDocument is one ingested file. Created on upload, advanced through
// the lifecycle by the ingestion pool; the extraction coordinator only flips
// MetadataExtracted.
type SourceDocument struct {
	// Identity
	ID          string `json:"id"` // doc_{uuid}
	DisplayName string `json:"display_name"`
	SourceURI   string `json:"source_uri" badgerhold:"index"` // remote URL, github://, local:// or uploads path
	EntityLabel string `json:"entity_label,omitempty"`        // optional domain tag (issuer, ticker, authority)

	// Lifecycle
	Status            DocumentStatus `json:"status" badgerhold:"index"`
	StatusDetail      string         `json:"status_detail,omitempty"` // last error or progress note
	MetadataExtracted bool           `json:"metadata_extracted"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSourceDocument creates a PENDING document.
func NewSourceDocument(displayName, sourceURI, entityLabel string) *SourceDocument {
	now := time.Now()
	return &SourceDocument{
		ID:          fmt.Sprintf("doc_%s", uuid.New().String()),
		DisplayName: displayName,
		SourceURI:   sourceURI,
		EntityLabel: entityLabel,
		Status:      DocumentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// StatusResponse is the polling view of a document's lifecycle.
type StatusResponse struct {
	DocumentID        string         `json:"document_id"`
	Status            DocumentStatus `json:"status"`
	StatusDetail      string         `json:"status_detail,omitempty"`
	MetadataExtracted bool           `json:"metadata_extracted"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
