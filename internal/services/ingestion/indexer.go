package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/metrics"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/ternarybob/excerpo/internal/services/vector"
)

// Indexer executes index_documents tasks from the queue: it re-embeds each
// document's stored chunk summaries and upserts them into the collection's
// vector index as one batch per document. Job counters and membership state
// are committed after every document so progress survives a crash.
type Indexer struct {
	jobs        interfaces.JobStorage
	documents   interfaces.DocumentStorage
	chunkStore  interfaces.ChunkStorage
	collections interfaces.CollectionStorage
	embedder    interfaces.Embedder
	vectors     interfaces.VectorIndex
	events      interfaces.EventService
	logger      arbor.ILogger
}

var _ interfaces.TaskExecutor = (*Indexer)(nil)

// NewIndexer creates the indexing task executor.
func NewIndexer(
	jobs interfaces.JobStorage,
	documents interfaces.DocumentStorage,
	chunkStore interfaces.ChunkStorage,
	collections interfaces.CollectionStorage,
	embedder interfaces.Embedder,
	vectors interfaces.VectorIndex,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Indexer {
	return &Indexer{
		jobs:        jobs,
		documents:   documents,
		chunkStore:  chunkStore,
		collections: collections,
		embedder:    embedder,
		vectors:     vectors,
		events:      events,
		logger:      logger,
	}
}

// Execute runs one indexing job to completion.
func (ix *Indexer) Execute(ctx context.Context, task *models.QueueTask) error {
	jobID, ok := task.GetString("job_id")
	if !ok || jobID == "" {
		return fmt.Errorf("index task %s has no job_id", task.ID)
	}

	job, err := ix.jobs.GetIndexingJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load indexing job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		// Redelivered task for a finished job, nothing to do.
		ix.logger.Warn().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Indexing job already finished, skipping")
		return nil
	}

	collection, err := ix.collections.GetCollection(ctx, job.CollectionID)
	if err != nil {
		ix.failJob(ctx, job, fmt.Sprintf("Collection not found: %v", err))
		return fmt.Errorf("failed to load collection %s: %w", job.CollectionID, err)
	}
	if collection.VectorIndexName == "" {
		detail := "Collection has no vector index name"
		ix.failJob(ctx, job, detail)
		return fmt.Errorf("%s: %s", detail, collection.ID)
	}

	// A task redelivered after a crash re-runs the whole job. Points and
	// membership rows upsert in place, so only the counters need resetting.
	now := time.Now()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &now
	job.ProcessedDocuments = 0
	job.FailedDocuments = 0
	job.ErrorDetails = ""
	if err := ix.jobs.SaveIndexingJob(ctx, job); err != nil {
		return fmt.Errorf("failed to start indexing job %s: %w", jobID, err)
	}

	ix.logger.Info().
		Str("job_id", job.ID).
		Str("collection_id", collection.ID).
		Str("index", collection.VectorIndexName).
		Int("documents", len(job.DocumentIDs)).
		Msg("Indexing job started")

	if err := ix.vectors.EnsureIndex(ctx, collection.VectorIndexName, ix.embedder.Dimension()); err != nil {
		ix.failJob(ctx, job, truncateDetail(fmt.Sprintf("Failed to ensure vector index: %v", err)))
		return fmt.Errorf("failed to ensure vector index %s: %w", collection.VectorIndexName, err)
	}

	for _, docID := range job.DocumentIDs {
		select {
		case <-ctx.Done():
			ix.failJob(ctx, job, "Interrupted by shutdown")
			return ctx.Err()
		default:
		}

		if err := ix.indexDocument(ctx, collection, docID); err != nil {
			job.FailedDocuments++
			job.ErrorDetails = truncateDetail(fmt.Sprintf("%s: %v", docID, err))
			ix.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Str("document_id", docID).
				Msg("Document indexing failed")
		} else {
			job.ProcessedDocuments++
		}

		if err := ix.jobs.SaveIndexingJob(ctx, job); err != nil {
			ix.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to commit indexing progress")
		}
		ix.publishProgress(ctx, job)
	}

	completedAt := time.Now()
	job.CompletedAt = &completedAt
	if job.FailedDocuments > 0 {
		job.Status = models.JobStatusFailed
	} else {
		job.Status = models.JobStatusCompleted
	}
	if err := ix.jobs.SaveIndexingJob(ctx, job); err != nil {
		return fmt.Errorf("failed to finish indexing job %s: %w", jobID, err)
	}

	ix.updateCollectionStats(ctx, collection)
	ix.publishCompleted(ctx, job)
	metrics.RecordJobFinished("indexing", string(job.Status))

	ix.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Int("processed", job.ProcessedDocuments).
		Int("failed", job.FailedDocuments).
		Msg("Indexing job finished")

	return nil
}

// indexDocument embeds one document's chunk summaries and replaces its
// points in the collection's index.
func (ix *Indexer) indexDocument(ctx context.Context, collection *models.Collection, docID string) error {
	doc, err := ix.documents.GetDocument(ctx, docID)
	if err != nil {
		ix.setMembership(ctx, collection.ID, docID, models.IndexingStatusFailed, 0, "document not found")
		return err
	}

	ix.setMembership(ctx, collection.ID, docID, models.IndexingStatusIndexing, 10, "")
	if err := ix.markIndexing(ctx, doc); err != nil {
		ix.setMembership(ctx, collection.ID, docID, models.IndexingStatusFailed, 0, err.Error())
		return err
	}

	chunks, err := ix.chunkStore.GetChunks(ctx, docID)
	if err == nil && len(chunks) == 0 {
		err = fmt.Errorf("document has no stored chunks")
	}
	if err != nil {
		ix.failDocumentIndexing(ctx, collection.ID, doc, err)
		return err
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Summary
		if texts[i] == "" {
			texts[i] = chunk.OriginalText
		}
	}

	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		ix.failDocumentIndexing(ctx, collection.ID, doc, fmt.Errorf("embedding failed: %w", err))
		return err
	}

	points := make([]interfaces.VectorPoint, len(chunks))
	for i, chunk := range chunks {
		points[i] = interfaces.VectorPoint{
			ID:     chunk.ID,
			Vector: embeddings[i],
			Payload: map[string]interface{}{
				vector.PayloadDocumentName: doc.DisplayName,
				vector.PayloadDocumentID:   doc.ID,
				vector.PayloadChunkID:      chunk.ID,
				vector.PayloadChunkTitle:   chunk.Title,
				vector.PayloadHasTable:     chunk.HasTable,
				vector.PayloadEntityLabel:  doc.EntityLabel,
			},
		}
	}

	// Reprocessing regenerates chunk IDs, so clear the document's old points
	// before writing the new batch.
	if err := ix.vectors.DeleteByDocument(ctx, collection.VectorIndexName, doc.DisplayName); err != nil {
		ix.failDocumentIndexing(ctx, collection.ID, doc, fmt.Errorf("failed to clear old points: %w", err))
		return err
	}
	if err := ix.vectors.Upsert(ctx, collection.VectorIndexName, points); err != nil {
		ix.failDocumentIndexing(ctx, collection.ID, doc, fmt.Errorf("upsert failed: %w", err))
		return err
	}

	ix.setMembership(ctx, collection.ID, docID, models.IndexingStatusIndexed, 100, "")
	ix.markReady(ctx, doc.ID)

	ix.logger.Info().
		Str("document_id", doc.ID).
		Str("collection_id", collection.ID).
		Int("points", len(points)).
		Msg("Document indexed")

	return nil
}

// markIndexing moves the document into INDEXING. A document that is already
// INDEXING (a concurrent job on another collection) passes through.
func (ix *Indexer) markIndexing(ctx context.Context, doc *models.SourceDocument) error {
	if doc.Status == models.DocumentStatusIndexing {
		return nil
	}
	if err := ix.documents.UpdateStatus(ctx, doc.ID, models.DocumentStatusIndexing, ""); err != nil {
		return fmt.Errorf("document not in an indexable state: %w", err)
	}
	ix.publishDocumentStatus(ctx, doc.ID, models.DocumentStatusIndexing, "")
	return nil
}

// markReady finishes the document lifecycle. Another collection's job may
// have flipped it already, so an invalid transition only logs.
func (ix *Indexer) markReady(ctx context.Context, docID string) {
	if err := ix.documents.UpdateStatus(ctx, docID, models.DocumentStatusReady, ""); err != nil {
		ix.logger.Debug().
			Err(err).
			Str("document_id", docID).
			Msg("Document already past INDEXING")
		return
	}
	ix.publishDocumentStatus(ctx, docID, models.DocumentStatusReady, "")
	metrics.RecordDocumentFinished("ready")
}

// failDocumentIndexing records the failure on both the membership and the
// document.
func (ix *Indexer) failDocumentIndexing(ctx context.Context, collectionID string, doc *models.SourceDocument, cause error) {
	ix.setMembership(ctx, collectionID, doc.ID, models.IndexingStatusFailed, 0, truncateDetail(cause.Error()))

	detail := truncateDetail(indexDetailPrefix + cause.Error())
	if err := ix.documents.UpdateStatus(ctx, doc.ID, models.DocumentStatusFailed, detail); err != nil {
		ix.logger.Debug().
			Err(err).
			Str("document_id", doc.ID).
			Msg("Could not mark document failed")
		return
	}
	ix.publishDocumentStatus(ctx, doc.ID, models.DocumentStatusFailed, detail)
	metrics.RecordDocumentFinished("failed")
}

func (ix *Indexer) setMembership(ctx context.Context, collectionID, documentID string, status models.IndexingStatus, progress int, errMsg string) {
	m, err := ix.collections.GetMembership(ctx, collectionID, documentID)
	if err != nil {
		ix.logger.Error().
			Err(err).
			Str("collection_id", collectionID).
			Str("document_id", documentID).
			Msg("Membership not found during indexing")
		return
	}

	m.IndexingStatus = status
	m.IndexingProgress = progress
	m.ErrorMessage = errMsg
	if status == models.IndexingStatusIndexed {
		now := time.Now()
		m.IndexedAt = &now
	}

	if err := ix.collections.SaveMembership(ctx, m); err != nil {
		ix.logger.Error().
			Err(err).
			Str("collection_id", collectionID).
			Str("document_id", documentID).
			Msg("Failed to save membership state")
	}
}

func (ix *Indexer) failJob(ctx context.Context, job *models.IndexingJob, detail string) {
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.ErrorDetails = detail
	job.CompletedAt = &now
	if err := ix.jobs.SaveIndexingJob(ctx, job); err != nil {
		ix.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to record job failure")
	}
	ix.publishCompleted(ctx, job)
	metrics.RecordJobFinished("indexing", string(job.Status))
}

// updateCollectionStats recomputes the collection's cumulative counters from
// membership state and the live point count.
func (ix *Indexer) updateCollectionStats(ctx context.Context, collection *models.Collection) {
	memberships, err := ix.collections.ListMemberships(ctx, collection.ID)
	if err != nil {
		ix.logger.Warn().
			Err(err).
			Str("collection_id", collection.ID).
			Msg("Failed to list memberships for stats")
		return
	}

	stats := models.IndexingStats{TotalDocuments: len(memberships)}
	for _, m := range memberships {
		switch m.IndexingStatus {
		case models.IndexingStatusIndexed:
			stats.IndexedDocuments++
		case models.IndexingStatusFailed:
			stats.FailedDocuments++
		}
	}

	if points, err := ix.vectors.CountPoints(ctx, collection.VectorIndexName); err == nil {
		stats.TotalPoints = int(points)
	}

	now := time.Now()
	stats.LastIndexedAt = &now
	collection.IndexingStats = stats

	if err := ix.collections.SaveCollection(ctx, collection); err != nil {
		ix.logger.Warn().
			Err(err).
			Str("collection_id", collection.ID).
			Msg("Failed to save collection stats")
	}
}

func (ix *Indexer) publishProgress(ctx context.Context, job *models.IndexingJob) {
	if ix.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventIndexingProgress,
		Payload: map[string]interface{}{
			"job_id":        job.ID,
			"collection_id": job.CollectionID,
			"processed":     job.ProcessedDocuments,
			"failed":        job.FailedDocuments,
			"total":         job.TotalDocuments,
		},
	}
	if err := ix.events.Publish(ctx, event); err != nil {
		ix.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish indexing progress")
	}
}

func (ix *Indexer) publishCompleted(ctx context.Context, job *models.IndexingJob) {
	if ix.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventJobCompleted,
		Payload: map[string]interface{}{
			"job_id":   job.ID,
			"job_kind": "indexing",
			"status":   string(job.Status),
		},
	}
	if err := ix.events.Publish(ctx, event); err != nil {
		ix.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job completion")
	}
}

func (ix *Indexer) publishDocumentStatus(ctx context.Context, documentID string, status models.DocumentStatus, detail string) {
	if ix.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventDocumentStatusChanged,
		Payload: models.StatusResponse{
			DocumentID:   documentID,
			Status:       status,
			StatusDetail: detail,
			UpdatedAt:    time.Now(),
		},
	}
	if err := ix.events.Publish(ctx, event); err != nil {
		ix.logger.Warn().Err(err).Str("document_id", documentID).Msg("Failed to publish document status event")
	}
}
