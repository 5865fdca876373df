package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is shared by indexing and extraction jobs.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the job has finished.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IndexingJobType selects which documents an indexing job accepts:
// "index" takes DOCUMENT_STORED documents, "reindex" takes READY ones.
type IndexingJobType string

const (
	IndexingJobTypeIndex   IndexingJobType = "index"
	IndexingJobTypeReindex IndexingJobType = "reindex"
)

// Valid reports whether t is a known indexing job type.
func (t IndexingJobType) Valid() bool {
	return t == IndexingJobTypeIndex || t == IndexingJobTypeReindex
}

// IndexingJob drives a set of documents of one collection into the vector
// index. Documents may be indexed in parallel inside one job; each
// document's chunks are upserted as a single batch.
type IndexingJob struct {
	ID           string          `json:"id"` // job_{uuid}
	CollectionID string          `json:"collection_id" badgerhold:"index"`
	DocumentIDs  []string        `json:"document_ids"`
	JobType      IndexingJobType `json:"job_type"`

	Status             JobStatus `json:"status" badgerhold:"index"`
	TotalDocuments     int       `json:"total_documents"`
	ProcessedDocuments int       `json:"processed_documents"`
	FailedDocuments    int       `json:"failed_documents"`
	ErrorDetails       string    `json:"error_details,omitempty"`

	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewIndexingJob creates a pending indexing job over the given documents.
func NewIndexingJob(collectionID string, documentIDs []string, jobType IndexingJobType, createdBy string) *IndexingJob {
	now := time.Now()
	return &IndexingJob{
		ID:             fmt.Sprintf("job_%s", uuid.New().String()),
		CollectionID:   collectionID,
		DocumentIDs:    documentIDs,
		JobType:        jobType,
		Status:         JobStatusPending,
		TotalDocuments: len(documentIDs),
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ExtractionJob is one user-initiated extraction run over
// (collection x group). Mutated only by the extraction coordinator.
type ExtractionJob struct {
	ID           string `json:"id"` // exj_{uuid}
	CollectionID string `json:"collection_id" badgerhold:"index"`
	GroupID      string `json:"group_id" badgerhold:"index"`

	Status             JobStatus `json:"status" badgerhold:"index"`
	TotalDocuments     int       `json:"total_documents"`
	ProcessedDocuments int       `json:"processed_documents"`
	FailedDocuments    int       `json:"failed_documents"`
	ErrorDetails       string    `json:"error_details,omitempty"`

	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewExtractionJob creates a pending extraction job.
func NewExtractionJob(collectionID, groupID string, totalDocuments int, createdBy string) *ExtractionJob {
	now := time.Now()
	return &ExtractionJob{
		ID:             fmt.Sprintf("exj_%s", uuid.New().String()),
		CollectionID:   collectionID,
		GroupID:        groupID,
		Status:         JobStatusPending,
		TotalDocuments: totalDocuments,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Stoppable reports whether a user cancel is still meaningful.
func (j *ExtractionJob) Stoppable() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusProcessing
}

// CountersConsistent checks processed + failed <= total and that reaching
// the total only happens in a terminal state. A stopped job may terminate
// below the total.
func (j *ExtractionJob) CountersConsistent() bool {
	sum := j.ProcessedDocuments + j.FailedDocuments
	if sum > j.TotalDocuments {
		return false
	}
	if sum == j.TotalDocuments && j.TotalDocuments > 0 && !j.Status.IsTerminal() {
		return false
	}
	return true
}
