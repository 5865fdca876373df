package interfaces

import (
	"context"

	"github.com/ternarybob/excerpo/internal/models"
)

// IndexingService submits and tracks collection indexing jobs. The actual
// work happens on the task queue.
type IndexingService interface {
	// SubmitJob records a job and enqueues an indexing task. With no
	// document IDs the job covers every document in the collection.
	SubmitJob(ctx context.Context, collectionID string, documentIDs []string, jobType models.IndexingJobType, createdBy string) (*models.IndexingJob, error)

	Job(ctx context.Context, jobID string) (*models.IndexingJob, error)
	Jobs(ctx context.Context, collectionID string, opts *ListOptions) ([]*models.IndexingJob, error)
}

// ExtractionService runs metadata extraction jobs over a collection.
type ExtractionService interface {
	// StartJob records a job for every READY document in the collection
	// crossed with the group's configurations, then enqueues it.
	StartJob(ctx context.Context, collectionID, groupID, createdBy string) (*models.ExtractionJob, error)

	// StopJob requests cancellation of a pending or processing job.
	StopJob(ctx context.Context, jobID string) error

	Job(ctx context.Context, jobID string) (*models.ExtractionJob, error)
	Jobs(ctx context.Context, collectionID string, opts *ListOptions) ([]*models.ExtractionJob, error)

	// Report renders the job's results as a PDF.
	Report(ctx context.Context, jobID string) ([]byte, error)
}
