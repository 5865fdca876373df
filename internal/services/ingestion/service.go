// -----------------------------------------------------------------------
// Ingestion Pool - Claims pending documents and runs the storage pipeline
// fetch -> chunk -> summarize -> persist, then submits default indexing
// -----------------------------------------------------------------------

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/metrics"
	"github.com/ternarybob/excerpo/internal/models"
)

// noContentDetail is the terminal failure reason for documents that yield no
// chunks. Clients match on this substring, keep it stable.
const noContentDetail = "No content could be extracted"

// Failure details carry a phase prefix so a FAILED document's status_detail
// says which half of the pipeline broke.
const (
	ingestDetailPrefix = "ingest: "
	indexDetailPrefix  = "index: "
)

// statusDetailLimit caps the error text persisted on a failed document.
const statusDetailLimit = 500

// Service is the ingestion worker pool. Each worker claims one PENDING
// document at a time and walks it to DOCUMENT_STORED or FAILED; the final
// hop to READY belongs to the indexing executor.
type Service struct {
	documents   interfaces.DocumentStorage
	chunkStore  interfaces.ChunkStorage
	collections interfaces.CollectionStorage
	blobs       interfaces.BlobStore
	chunker     interfaces.DocumentChunker
	summarizer  interfaces.Summarizer
	indexing    interfaces.IndexingService
	events      interfaces.EventService
	logger      arbor.ILogger

	workers      int
	pollInterval time.Duration
	phaseTimeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewService creates the ingestion pool. Start must be called before any
// documents are processed.
func NewService(
	cfg *common.Config,
	documents interfaces.DocumentStorage,
	chunkStore interfaces.ChunkStorage,
	collections interfaces.CollectionStorage,
	blobs interfaces.BlobStore,
	chunker interfaces.DocumentChunker,
	summarizer interfaces.Summarizer,
	indexing interfaces.IndexingService,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.Ingestion.Workers
	if workers <= 0 {
		workers = 3
	}

	return &Service{
		documents:    documents,
		chunkStore:   chunkStore,
		collections:  collections,
		blobs:        blobs,
		chunker:      chunker,
		summarizer:   summarizer,
		indexing:     indexing,
		events:       events,
		logger:       logger,
		workers:      workers,
		pollInterval: common.ParseDurationOr(cfg.Ingestion.PollInterval, 2*time.Second),
		phaseTimeout: common.ParseDurationOr(cfg.Ingestion.PhaseTimeout, 5*time.Minute),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker goroutines. Call after all services are
// initialized so a claimed document never meets a half-built pipeline.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Ingestion pool already running")
		return
	}
	s.running = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}

	s.logger.Info().
		Int("workers", s.workers).
		Dur("poll_interval", s.pollInterval).
		Msg("Ingestion pool started")
}

// Stop signals the workers and waits for in-flight documents to finish their
// current phase. Documents left in PROCESSING are reclaimed by the stale
// reaper after restart.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping ingestion pool...")
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Ingestion pool stopped")
}

func (s *Service) workerLoop(workerIndex int) {
	defer s.wg.Done()

	s.logger.Debug().
		Int("worker_index", workerIndex).
		Msg("Ingestion worker started")

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug().
				Int("worker_index", workerIndex).
				Msg("Ingestion worker exiting")
			return
		default:
		}

		doc, err := s.documents.ClaimPending(s.ctx)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				s.logger.Error().
					Err(err).
					Int("worker_index", workerIndex).
					Msg("Failed to claim pending document")
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.pollInterval):
			}
			continue
		}

		s.processDocument(doc, workerIndex)
	}
}

// processDocument walks one claimed document through the storage pipeline.
// Every phase runs under its own timeout so a hung fetch or model call
// cannot pin a worker forever.
func (s *Service) processDocument(doc *models.SourceDocument, workerIndex int) {
	startTime := time.Now()

	s.logger.Info().
		Str("document_id", doc.ID).
		Str("display_name", doc.DisplayName).
		Int("worker_index", workerIndex).
		Msg("Processing document")

	blob, err := s.fetchPhase(doc)
	if err != nil {
		s.failDocument(doc, fmt.Sprintf("Failed to fetch source: %v", err))
		return
	}

	chunks, err := s.chunkPhase(doc, blob)
	if err != nil {
		s.failDocument(doc, fmt.Sprintf("Failed to chunk document: %v", err))
		return
	}
	if len(chunks) == 0 {
		s.failDocument(doc, noContentDetail)
		return
	}

	if err := s.summarizePhase(doc, chunks); err != nil {
		// Only cancellation escapes the summarizer. A shutdown leaves the
		// document in PROCESSING for the stale reaper; a phase timeout is a
		// real failure.
		if errors.Is(err, context.Canceled) {
			s.logger.Warn().
				Str("document_id", doc.ID).
				Msg("Summarization interrupted by shutdown")
			return
		}
		s.failDocument(doc, fmt.Sprintf("Failed to summarize chunks: %v", err))
		return
	}

	if err := s.persistChunks(doc, chunks); err != nil {
		s.failDocument(doc, fmt.Sprintf("Failed to store chunks: %v", err))
		return
	}

	detail := fmt.Sprintf("Stored %d chunks", len(chunks))
	if err := s.documents.UpdateStatus(s.ctx, doc.ID, models.DocumentStatusDocumentStored, detail); err != nil {
		s.logger.Error().
			Err(err).
			Str("document_id", doc.ID).
			Msg("Failed to mark document stored")
		return
	}
	s.publishStatus(doc.ID, models.DocumentStatusDocumentStored, detail)
	metrics.ObserveDocumentChunks(len(chunks))

	s.logger.Info().
		Str("document_id", doc.ID).
		Int("chunks", len(chunks)).
		Dur("duration", time.Since(startTime)).
		Msg("Document stored")

	s.submitDefaultIndexing(doc)
}

func (s *Service) fetchPhase(doc *models.SourceDocument) (*interfaces.BlobResult, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.phaseTimeout)
	defer cancel()
	return s.blobs.Fetch(ctx, doc.SourceURI)
}

func (s *Service) chunkPhase(doc *models.SourceDocument, blob *interfaces.BlobResult) ([]*models.DocumentChunk, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.phaseTimeout)
	defer cancel()
	return s.chunker.Chunk(ctx, doc.ID, blob)
}

func (s *Service) summarizePhase(doc *models.SourceDocument, chunks []*models.DocumentChunk) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.phaseTimeout)
	defer cancel()
	return s.summarizer.SummarizeChunks(ctx, doc, chunks)
}

// persistChunks replaces any chunks left from a previous run, so a
// reprocessed document never mixes old and new chunk sets.
func (s *Service) persistChunks(doc *models.SourceDocument, chunks []*models.DocumentChunk) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.phaseTimeout)
	defer cancel()

	if err := s.chunkStore.DeleteChunks(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}
	return s.chunkStore.SaveChunks(ctx, chunks)
}

// submitDefaultIndexing queues the stored document for indexing into the
// default collection. Failure here is not a document failure: the document
// stays DOCUMENT_STORED and can be indexed by a later job.
func (s *Service) submitDefaultIndexing(doc *models.SourceDocument) {
	defaultCol, err := s.collections.GetCollectionByName(s.ctx, models.DefaultCollectionName)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("document_id", doc.ID).
			Msg("Default collection missing, skipping auto indexing")
		return
	}

	job, err := s.indexing.SubmitJob(s.ctx, defaultCol.ID, []string{doc.ID}, models.IndexingJobTypeIndex, "system")
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("document_id", doc.ID).
			Str("collection_id", defaultCol.ID).
			Msg("Failed to submit default indexing job")
		return
	}

	s.logger.Info().
		Str("document_id", doc.ID).
		Str("job_id", job.ID).
		Msg("Submitted default indexing job")
}

func (s *Service) failDocument(doc *models.SourceDocument, detail string) {
	detail = truncateDetail(ingestDetailPrefix + detail)

	if err := s.documents.UpdateStatus(s.ctx, doc.ID, models.DocumentStatusFailed, detail); err != nil {
		s.logger.Error().
			Err(err).
			Str("document_id", doc.ID).
			Msg("Failed to mark document failed")
		return
	}

	s.logger.Error().
		Str("document_id", doc.ID).
		Str("detail", detail).
		Msg("Document ingestion failed")
	s.publishStatus(doc.ID, models.DocumentStatusFailed, detail)
	metrics.RecordDocumentFinished("failed")
}

func (s *Service) publishStatus(documentID string, status models.DocumentStatus, detail string) {
	if s.events == nil {
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
	if err := s.events.Publish(s.ctx, event); err != nil {
		s.logger.Warn().
			Err(err).
			Str("document_id", documentID).
			Msg("Failed to publish document status event")
	}
}

func truncateDetail(detail string) string {
	if len(detail) <= statusDetailLimit {
		return detail
	}
	return detail[:statusDetailLimit]
}
