package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveIndexingJob(ctx context.Context, job *models.IndexingJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save indexing job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetIndexingJob(ctx context.Context, id string) (*models.IndexingJob, error) {
	var job models.IndexingJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("indexing job %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get indexing job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListIndexingJobs(ctx context.Context, collectionID string, opts *interfaces.ListOptions) ([]*models.IndexingJob, error) {
	query := badgerhold.Where("ID").Ne("")
	if collectionID != "" {
		query = query.And("CollectionID").Eq(collectionID)
	}
	query = applyJobListOptions(query, opts)

	var jobs []models.IndexingJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list indexing jobs: %w", err)
	}

	result := make([]*models.IndexingJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) SaveExtractionJob(ctx context.Context, job *models.ExtractionJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save extraction job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetExtractionJob(ctx context.Context, id string) (*models.ExtractionJob, error) {
	var job models.ExtractionJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("extraction job %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get extraction job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListExtractionJobs(ctx context.Context, collectionID string, opts *interfaces.ListOptions) ([]*models.ExtractionJob, error) {
	query := badgerhold.Where("ID").Ne("")
	if collectionID != "" {
		query = query.And("CollectionID").Eq(collectionID)
	}
	query = applyJobListOptions(query, opts)

	var jobs []models.ExtractionJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list extraction jobs: %w", err)
	}

	result := make([]*models.ExtractionJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// applyJobListOptions applies the shared list filters. Jobs list newest
// first by default.
func applyJobListOptions(query *badgerhold.Query, opts *interfaces.ListOptions) *badgerhold.Query {
	if opts != nil && opts.Status != "" {
		query = query.And("Status").Eq(models.JobStatus(opts.Status))
	}
	query = query.SortBy("CreatedAt").Reverse()
	if opts != nil {
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	return query
}
