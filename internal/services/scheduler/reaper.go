package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// Reaper fails work that stopped making progress: documents parked in
// PROCESSING or INDEXING past the cutoff, and jobs whose driver died after
// the queue exhausted its redeliveries. Live jobs are safe at any length
// because every progress commit refreshes the job's UpdatedAt.
type Reaper struct {
	documents  interfaces.DocumentStorage
	jobs       interfaces.JobStorage
	events     interfaces.EventService
	staleAfter time.Duration
	logger     arbor.ILogger
}

// NewReaper creates a reaper with the given stale cutoff.
func NewReaper(documents interfaces.DocumentStorage, jobs interfaces.JobStorage, events interfaces.EventService, staleAfter time.Duration, logger arbor.ILogger) *Reaper {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Reaper{
		documents:  documents,
		jobs:       jobs,
		events:     events,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Sweep runs one pass over documents and jobs. Registered as a scheduler
// job handler.
func (r *Reaper) Sweep(ctx context.Context) error {
	var docsFailed int
	for _, status := range []models.DocumentStatus{models.DocumentStatusProcessing, models.DocumentStatusIndexing} {
		n, err := r.sweepDocuments(ctx, status)
		if err != nil {
			return err
		}
		docsFailed += n
	}

	indexingFailed, err := r.sweepIndexingJobs(ctx)
	if err != nil {
		return err
	}
	extractionFailed, err := r.sweepExtractionJobs(ctx)
	if err != nil {
		return err
	}

	if docsFailed > 0 || indexingFailed > 0 || extractionFailed > 0 {
		r.logger.Info().
			Int("documents", docsFailed).
			Int("indexing_jobs", indexingFailed).
			Int("extraction_jobs", extractionFailed).
			Msg("Stale work failed by reaper")
	}
	return nil
}

func (r *Reaper) sweepDocuments(ctx context.Context, status models.DocumentStatus) (int, error) {
	stuck, err := r.documents.ListStuck(ctx, status, r.staleAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck %s documents: %w", status, err)
	}

	phase := "ingest"
	if status == models.DocumentStatusIndexing {
		phase = "index"
	}

	failed := 0
	for _, doc := range stuck {
		detail := fmt.Sprintf("%s: timed out after %s", phase, r.staleAfter)
		if err := r.documents.UpdateStatus(ctx, doc.ID, models.DocumentStatusFailed, detail); err != nil {
			// The worker may have finished between the list and this write.
			r.logger.Warn().
				Err(err).
				Str("document_id", doc.ID).
				Msg("Could not fail stuck document")
			continue
		}
		failed++
		r.logger.Warn().
			Str("document_id", doc.ID).
			Str("status", string(status)).
			Msg("Stuck document failed")
		r.publishDocumentStatus(ctx, doc.ID, detail)
	}
	return failed, nil
}

func (r *Reaper) sweepIndexingJobs(ctx context.Context) (int, error) {
	jobs, err := r.jobs.ListIndexingJobs(ctx, "", &interfaces.ListOptions{Status: string(models.JobStatusProcessing)})
	if err != nil {
		return 0, fmt.Errorf("failed to list processing indexing jobs: %w", err)
	}

	cutoff := time.Now().Add(-r.staleAfter)
	failed := 0
	for _, job := range jobs {
		if !stalledSince(job.UpdatedAt, job.CreatedAt, cutoff) {
			continue
		}
		now := time.Now()
		job.Status = models.JobStatusFailed
		job.ErrorDetails = fmt.Sprintf("indexing timed out after %s", r.staleAfter)
		job.CompletedAt = &now
		if err := r.jobs.SaveIndexingJob(ctx, job); err != nil {
			r.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Could not fail stuck indexing job")
			continue
		}
		failed++
		r.publishJobFailed(ctx, job.ID, "indexing")
	}
	return failed, nil
}

func (r *Reaper) sweepExtractionJobs(ctx context.Context) (int, error) {
	jobs, err := r.jobs.ListExtractionJobs(ctx, "", &interfaces.ListOptions{Status: string(models.JobStatusProcessing)})
	if err != nil {
		return 0, fmt.Errorf("failed to list processing extraction jobs: %w", err)
	}

	cutoff := time.Now().Add(-r.staleAfter)
	failed := 0
	for _, job := range jobs {
		if !stalledSince(job.UpdatedAt, job.CreatedAt, cutoff) {
			continue
		}
		now := time.Now()
		job.Status = models.JobStatusFailed
		job.ErrorDetails = fmt.Sprintf("extraction timed out after %s", r.staleAfter)
		job.CompletedAt = &now
		if err := r.jobs.SaveExtractionJob(ctx, job); err != nil {
			r.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Could not fail stuck extraction job")
			continue
		}
		failed++
		r.publishJobFailed(ctx, job.ID, "extraction")
	}
	return failed, nil
}

// stalledSince reports whether the job's last write predates the cutoff.
// Rows from before the UpdatedAt column fall back to CreatedAt.
func stalledSince(updatedAt, createdAt time.Time, cutoff time.Time) bool {
	last := updatedAt
	if last.IsZero() {
		last = createdAt
	}
	return last.Before(cutoff)
}

func (r *Reaper) publishDocumentStatus(ctx context.Context, documentID, detail string) {
	if r.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventDocumentStatusChanged,
		Payload: models.StatusResponse{
			DocumentID:   documentID,
			Status:       models.DocumentStatusFailed,
			StatusDetail: detail,
			UpdatedAt:    time.Now(),
		},
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn().
			Err(err).
			Str("document_id", documentID).
			Msg("Failed to publish document status event")
	}
}

func (r *Reaper) publishJobFailed(ctx context.Context, jobID, kind string) {
	if r.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventJobCompleted,
		Payload: map[string]interface{}{
			"job_id":   jobID,
			"job_kind": kind,
			"status":   string(models.JobStatusFailed),
		},
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Msg("Failed to publish completion event")
	}
}
