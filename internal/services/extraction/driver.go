package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/metrics"
	"github.com/ternarybob/excerpo/internal/models"
)

// detailLimit caps persisted error details.
const detailLimit = 500

// Driver executes one extraction job off the task queue: an outer sequential
// document loop and an inner sequential configuration loop, paced to respect
// provider quotas. Counters are committed after every document and a user
// stop is honored at the next configuration boundary.
type Driver struct {
	jobs        interfaces.JobStorage
	documents   interfaces.DocumentStorage
	collections interfaces.CollectionStorage
	metadata    interfaces.MetadataStorage
	extracted   interfaces.ExtractedStorage
	extractor   interfaces.FieldExtractor
	events      interfaces.EventService
	logger      arbor.ILogger

	stepDelay  time.Duration
	errorDelay time.Duration
}

var _ interfaces.TaskExecutor = (*Driver)(nil)

func NewDriver(
	cfg *common.Config,
	jobs interfaces.JobStorage,
	documents interfaces.DocumentStorage,
	collections interfaces.CollectionStorage,
	metadata interfaces.MetadataStorage,
	extracted interfaces.ExtractedStorage,
	extractor interfaces.FieldExtractor,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Driver {
	return &Driver{
		jobs:        jobs,
		documents:   documents,
		collections: collections,
		metadata:    metadata,
		extracted:   extracted,
		extractor:   extractor,
		events:      events,
		logger:      logger,
		stepDelay:   common.ParseDurationOr(cfg.Extraction.StepDelay, time.Second),
		errorDelay:  common.ParseDurationOr(cfg.Extraction.ErrorDelay, 2*time.Second),
	}
}

func (d *Driver) Execute(ctx context.Context, task *models.QueueTask) error {
	jobID, ok := task.GetString("job_id")
	if !ok || jobID == "" {
		return fmt.Errorf("extraction task %s has no job_id", task.ID)
	}
	docIDs, _ := task.GetStringSlice("document_ids")

	job, err := d.jobs.GetExtractionJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load extraction job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		// Stopped before starting, or a redelivered task for a finished job.
		d.logger.Warn().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Extraction job already finished, skipping")
		return nil
	}

	collection, err := d.collections.GetCollection(ctx, job.CollectionID)
	if err != nil {
		d.failJob(ctx, job, fmt.Sprintf("Collection not found: %v", err))
		return fmt.Errorf("failed to load collection %s: %w", job.CollectionID, err)
	}
	if collection.VectorIndexName == "" {
		detail := "Collection has no vector index name"
		d.failJob(ctx, job, detail)
		return fmt.Errorf("%s: %s", detail, collection.ID)
	}
	group, err := d.metadata.GetGroup(ctx, job.GroupID)
	if err != nil {
		d.failJob(ctx, job, fmt.Sprintf("Group not found: %v", err))
		return fmt.Errorf("failed to load group %s: %w", job.GroupID, err)
	}

	configs, err := loadGroupConfigurations(ctx, d.metadata, group.ID)
	if err != nil {
		d.failJob(ctx, job, truncateDetail(fmt.Sprintf("Failed to load configurations: %v", err)))
		return err
	}
	if len(configs) == 0 {
		detail := "Group has no active configurations"
		d.failJob(ctx, job, detail)
		return fmt.Errorf("%s: %s", detail, group.ID)
	}

	// A task redelivered after a crash re-runs the whole job. Values upsert
	// in place, so only the counters need resetting.
	now := time.Now()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &now
	job.ProcessedDocuments = 0
	job.FailedDocuments = 0
	job.ErrorDetails = ""
	if stopped := d.saveJob(ctx, job); stopped {
		d.finishStopped(ctx, job)
		return nil
	}

	d.logger.Info().
		Str("job_id", job.ID).
		Str("collection_id", collection.ID).
		Str("group_id", group.ID).
		Int("documents", len(docIDs)).
		Int("configurations", len(configs)).
		Msg("Extraction job started")

	for _, docID := range docIDs {
		select {
		case <-ctx.Done():
			d.failJob(ctx, job, "Interrupted by shutdown")
			return ctx.Err()
		default:
		}

		doc, err := d.documents.GetDocument(ctx, docID)
		if err != nil {
			job.FailedDocuments++
			d.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Str("document_id", docID).
				Msg("Document disappeared before extraction")
			if stopped := d.commitProgress(ctx, job); stopped {
				d.finishStopped(ctx, job)
				return nil
			}
			continue
		}

		docFailed := false
		for _, cfg := range configs {
			value, err := d.extractor.ExtractValue(ctx, collection, doc, cfg)
			if err != nil {
				docFailed = true
				d.logger.Error().
					Err(err).
					Str("job_id", job.ID).
					Str("document_id", doc.ID).
					Str("configuration", cfg.Name).
					Msg("Field extraction failed")
			}
			if value != "" {
				d.storeValue(ctx, job, doc, cfg, value)
			}

			if d.stopRequested(ctx, job.ID) {
				// The partial document stays uncounted; its stored values
				// remain for the report.
				d.finishStopped(ctx, job)
				return nil
			}

			delay := d.stepDelay
			if err != nil {
				delay = d.errorDelay
			}
			d.pause(ctx, delay)
		}

		if docFailed {
			job.FailedDocuments++
		} else {
			job.ProcessedDocuments++
			d.markMetadataExtracted(ctx, doc.ID)
		}
		if stopped := d.commitProgress(ctx, job); stopped {
			d.finishStopped(ctx, job)
			return nil
		}
	}

	completedAt := time.Now()
	job.CompletedAt = &completedAt
	if job.FailedDocuments > 0 {
		job.Status = models.JobStatusFailed
	} else {
		job.Status = models.JobStatusCompleted
	}
	if stopped := d.saveJob(ctx, job); stopped {
		d.finishStopped(ctx, job)
		return nil
	}
	d.publishCompleted(ctx, job)
	metrics.RecordJobFinished("extraction", string(job.Status))

	d.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Int("processed", job.ProcessedDocuments).
		Int("failed", job.FailedDocuments).
		Msg("Extraction job finished")
	return nil
}

// storeValue upserts one extracted field. The primary key makes reruns
// overwrite in place.
func (d *Driver) storeValue(ctx context.Context, job *models.ExtractionJob, doc *models.SourceDocument, cfg *models.MetadataConfiguration, value string) {
	rec := &models.ExtractedMetadata{
		CollectionID:    job.CollectionID,
		DocumentID:      doc.ID,
		GroupID:         job.GroupID,
		MetadataName:    cfg.Name,
		ExtractionJobID: job.ID,
		ExtractedValue:  value,
		ExtractedBy:     job.CreatedBy,
		ExtractedAt:     time.Now(),
	}
	if err := d.extracted.SaveExtracted(ctx, rec); err != nil {
		d.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("document_id", doc.ID).
			Str("configuration", cfg.Name).
			Msg("Failed to store extracted value")
	}
}

// markMetadataExtracted flips the document flag after a fully successful
// pass.
func (d *Driver) markMetadataExtracted(ctx context.Context, docID string) {
	doc, err := d.documents.GetDocument(ctx, docID)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("document_id", docID).
			Msg("Could not flag document as extracted")
		return
	}
	if doc.MetadataExtracted {
		return
	}
	doc.MetadataExtracted = true
	doc.UpdatedAt = time.Now()
	if err := d.documents.SaveDocument(ctx, doc); err != nil {
		d.logger.Warn().
			Err(err).
			Str("document_id", docID).
			Msg("Could not flag document as extracted")
	}
}

// stopRequested reloads the job and reports whether a user stop arrived.
func (d *Driver) stopRequested(ctx context.Context, jobID string) bool {
	fresh, err := d.jobs.GetExtractionJob(ctx, jobID)
	if err != nil {
		return false
	}
	return isStopped(fresh)
}

// saveJob persists the driver's working copy. A concurrent user stop is
// merged in rather than clobbered; the caller must wind down when it
// reports true.
func (d *Driver) saveJob(ctx context.Context, job *models.ExtractionJob) bool {
	stopped := false
	if fresh, err := d.jobs.GetExtractionJob(ctx, job.ID); err == nil && isStopped(fresh) {
		job.Status = fresh.Status
		job.ErrorDetails = fresh.ErrorDetails
		stopped = true
	}
	if err := d.jobs.SaveExtractionJob(ctx, job); err != nil {
		d.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to commit extraction progress")
	}
	return stopped
}

func (d *Driver) commitProgress(ctx context.Context, job *models.ExtractionJob) bool {
	stopped := d.saveJob(ctx, job)
	d.publishProgress(ctx, job)
	return stopped
}

// finishStopped finalizes a job whose stop flag was observed. Status and
// detail were already written by StopJob.
func (d *Driver) finishStopped(ctx context.Context, job *models.ExtractionJob) {
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.ErrorDetails = stopDetail
	job.CompletedAt = &now
	if err := d.jobs.SaveExtractionJob(ctx, job); err != nil {
		d.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to finalize stopped job")
	}
	d.publishCompleted(ctx, job)
	metrics.RecordJobFinished("extraction", string(job.Status))

	d.logger.Info().
		Str("job_id", job.ID).
		Int("processed", job.ProcessedDocuments).
		Int("failed", job.FailedDocuments).
		Msg("Extraction job stopped by user")
}

func (d *Driver) failJob(ctx context.Context, job *models.ExtractionJob, detail string) {
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.ErrorDetails = detail
	job.CompletedAt = &now
	if err := d.jobs.SaveExtractionJob(ctx, job); err != nil {
		d.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to record job failure")
	}
	d.publishCompleted(ctx, job)
	metrics.RecordJobFinished("extraction", string(job.Status))
}

// pause sleeps between provider calls, waking early on shutdown.
func (d *Driver) pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (d *Driver) publishProgress(ctx context.Context, job *models.ExtractionJob) {
	if d.events == nil {
		return
	}
	err := d.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventExtractionProgress,
		Payload: map[string]interface{}{
			"job_id":        job.ID,
			"collection_id": job.CollectionID,
			"group_id":      job.GroupID,
			"processed":     job.ProcessedDocuments,
			"failed":        job.FailedDocuments,
			"total":         job.TotalDocuments,
		},
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish progress event")
	}
}

func (d *Driver) publishCompleted(ctx context.Context, job *models.ExtractionJob) {
	if d.events == nil {
		return
	}
	err := d.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventJobCompleted,
		Payload: map[string]interface{}{
			"job_id":   job.ID,
			"job_kind": "extraction",
			"status":   string(job.Status),
		},
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish completion event")
	}
}

func isStopped(job *models.ExtractionJob) bool {
	return job.Status == models.JobStatusFailed && job.ErrorDetails == stopDetail
}

func truncateDetail(detail string) string {
	if len(detail) <= detailLimit {
		return detail
	}
	return detail[:detailLimit]
}
