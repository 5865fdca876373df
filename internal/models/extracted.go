package models

import (
	"fmt"
	"time"
)

// Sentinel values recorded in place of an extracted value. They are
// non-fatal outcomes: a job never fails because of a sentinel alone.
const (
	ValueNotFound           = "Not Found"
	ValueServiceUnavailable = "Service Unavailable"
	ValueInvalidFormat      = "Invalid Format"
)

// IsSentinelValue reports whether v is one of the reserved outcomes.
func IsSentinelValue(v string) bool {
	return v == ValueNotFound || v == ValueServiceUnavailable || v == ValueInvalidFormat
}

// ExtractedMetadata is one extracted field value, upserted by the extraction
// executor. Primary key: (collection_id, document_id, group_id,
// metadata_name); re-running a job overwrites in place.
type ExtractedMetadata struct {
	CollectionID string `json:"collection_id" badgerhold:"index"`
	DocumentID   string `json:"document_id" badgerhold:"index"`
	GroupID      string `json:"group_id" badgerhold:"index"`
	MetadataName string `json:"metadata_name"`

	ExtractionJobID string `json:"extraction_job_id" badgerhold:"index"`
	ExtractedValue  string `json:"extracted_value"`

	ExtractedBy string    `json:"extracted_by,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Key returns the composite primary key.
func (e *ExtractedMetadata) Key() string {
	return fmt.Sprintf("%s/%s/%s/%s", e.CollectionID, e.DocumentID, e.GroupID, e.MetadataName)
}
