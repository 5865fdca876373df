package indexing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// nonWordChars matches everything an index name may not contain. Runs of
// disallowed characters collapse into a single underscore.
var nonWordChars = regexp.MustCompile(`[^a-z0-9]+`)

// Service validates and records indexing jobs, then hands them to the task
// queue. The ingestion indexer does the actual work.
type Service struct {
	jobs        interfaces.JobStorage
	documents   interfaces.DocumentStorage
	collections interfaces.CollectionStorage
	queue       interfaces.TaskQueue
	logger      arbor.ILogger
}

var _ interfaces.IndexingService = (*Service)(nil)

func NewService(
	jobs interfaces.JobStorage,
	documents interfaces.DocumentStorage,
	collections interfaces.CollectionStorage,
	queue interfaces.TaskQueue,
	logger arbor.ILogger,
) *Service {
	return &Service{
		jobs:        jobs,
		documents:   documents,
		collections: collections,
		queue:       queue,
		logger:      logger,
	}
}

// SubmitJob records an indexing job over the eligible documents and enqueues
// the task that runs it. An empty document list covers the whole collection.
// Documents that are unknown or not in the state the job type accepts are
// skipped with a log line rather than failing the submission.
func (s *Service) SubmitJob(ctx context.Context, collectionID string, documentIDs []string, jobType models.IndexingJobType, createdBy string) (*models.IndexingJob, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("unknown indexing job type %q", jobType)
	}

	collection, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", collectionID, err)
	}

	if collection.VectorIndexName == "" {
		collection.VectorIndexName = deriveIndexName(collection.Name, collection.ID)
		if err := s.collections.SaveCollection(ctx, collection); err != nil {
			return nil, fmt.Errorf("failed to persist vector index name: %w", err)
		}
		s.logger.Info().
			Str("collection_id", collection.ID).
			Str("index", collection.VectorIndexName).
			Msg("Derived vector index name")
	}

	candidates := documentIDs
	if len(candidates) == 0 {
		memberships, err := s.collections.ListMemberships(ctx, collectionID)
		if err != nil {
			return nil, fmt.Errorf("failed to list collection members: %w", err)
		}
		candidates = make([]string, 0, len(memberships))
		for _, m := range memberships {
			candidates = append(candidates, m.DocumentID)
		}
	}

	eligible, err := s.filterEligible(ctx, candidates, jobType)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("collection %s: %w", collectionID, models.ErrNoEligibleDocuments)
	}

	job := models.NewIndexingJob(collectionID, eligible, jobType, createdBy)
	if err := s.jobs.SaveIndexingJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save indexing job: %w", err)
	}

	task := models.NewQueueTask(models.TaskTypeIndexDocuments, map[string]interface{}{
		"job_id": job.ID,
	})
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.markFailed(ctx, job, "Failed to enqueue indexing task")
		return nil, fmt.Errorf("failed to enqueue indexing task: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("collection_id", collectionID).
		Str("job_type", string(jobType)).
		Int("documents", len(eligible)).
		Msg("Indexing job submitted")

	return job, nil
}

func (s *Service) Job(ctx context.Context, jobID string) (*models.IndexingJob, error) {
	return s.jobs.GetIndexingJob(ctx, jobID)
}

func (s *Service) Jobs(ctx context.Context, collectionID string, opts *interfaces.ListOptions) ([]*models.IndexingJob, error) {
	return s.jobs.ListIndexingJobs(ctx, collectionID, opts)
}

// filterEligible keeps documents that exist and sit in the state the job
// type accepts. Duplicate ids are collapsed so a document is never indexed
// twice in one job.
func (s *Service) filterEligible(ctx context.Context, candidates []string, jobType models.IndexingJobType) ([]string, error) {
	required := models.DocumentStatusDocumentStored
	if jobType == models.IndexingJobTypeReindex {
		required = models.DocumentStatusReady
	}

	seen := make(map[string]bool, len(candidates))
	eligible := make([]string, 0, len(candidates))
	for _, docID := range candidates {
		if seen[docID] {
			continue
		}
		seen[docID] = true

		doc, err := s.documents.GetDocument(ctx, docID)
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().
				Str("document_id", docID).
				Msg("Skipping unknown document")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load document %s: %w", docID, err)
		}
		if doc.Status != required {
			s.logger.Warn().
				Str("document_id", docID).
				Str("status", string(doc.Status)).
				Str("required", string(required)).
				Msg("Skipping document not eligible for indexing")
			continue
		}
		eligible = append(eligible, docID)
	}
	return eligible, nil
}

func (s *Service) markFailed(ctx context.Context, job *models.IndexingJob, detail string) {
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.ErrorDetails = detail
	job.CompletedAt = &now
	if err := s.jobs.SaveIndexingJob(ctx, job); err != nil {
		s.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to record job failure")
	}
}

// deriveIndexName builds a stable physical index name from the collection
// name. The collection id suffix keeps names unique when display names
// collide.
func deriveIndexName(name, collectionID string) string {
	sanitized := nonWordChars.ReplaceAllString(strings.ToLower(name), "_")
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		return collectionID
	}
	return sanitized + "_" + collectionID
}
