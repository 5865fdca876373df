// -----------------------------------------------------------------------
// Extraction Service - Runs metadata extraction jobs over collections
// One job per (collection x group); sequential execution through the queue
// -----------------------------------------------------------------------

package extraction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// stopDetail is written by StopJob and recognized by the driver. Clients
// match on this string, keep it stable.
const stopDetail = "Job stopped by user"

// Service validates and records extraction jobs, handles user cancellation,
// and assembles job reports. The driver executes jobs off the task queue.
type Service struct {
	jobs        interfaces.JobStorage
	documents   interfaces.DocumentStorage
	collections interfaces.CollectionStorage
	metadata    interfaces.MetadataStorage
	extracted   interfaces.ExtractedStorage
	queue       interfaces.TaskQueue
	renderer    interfaces.ReportRenderer
	logger      arbor.ILogger
}

var _ interfaces.ExtractionService = (*Service)(nil)

func NewService(
	jobs interfaces.JobStorage,
	documents interfaces.DocumentStorage,
	collections interfaces.CollectionStorage,
	metadata interfaces.MetadataStorage,
	extracted interfaces.ExtractedStorage,
	queue interfaces.TaskQueue,
	renderer interfaces.ReportRenderer,
	logger arbor.ILogger,
) *Service {
	return &Service{
		jobs:        jobs,
		documents:   documents,
		collections: collections,
		metadata:    metadata,
		extracted:   extracted,
		queue:       queue,
		renderer:    renderer,
		logger:      logger,
	}
}

// StartJob records an extraction job over every READY member of the
// collection and enqueues the driver task. The document set is frozen at
// submission so the job's total stays meaningful while it waits in the
// queue.
func (s *Service) StartJob(ctx context.Context, collectionID, groupID, createdBy string) (*models.ExtractionJob, error) {
	collection, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", collectionID, err)
	}
	group, err := s.metadata.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group %s: %w", groupID, err)
	}

	configs, err := loadGroupConfigurations(ctx, s.metadata, group.ID)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("group %s has no active configurations", group.ID)
	}

	docIDs, err := s.readyMembers(ctx, collection.ID)
	if err != nil {
		return nil, err
	}
	if len(docIDs) == 0 {
		return nil, fmt.Errorf("collection %s: %w", collectionID, models.ErrNoEligibleDocuments)
	}

	job := models.NewExtractionJob(collectionID, groupID, len(docIDs), createdBy)
	if err := s.jobs.SaveExtractionJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save extraction job: %w", err)
	}

	task := models.NewQueueTask(models.TaskTypeRunExtraction, map[string]interface{}{
		"job_id":       job.ID,
		"document_ids": docIDs,
	})
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.markFailed(ctx, job, "Failed to enqueue extraction task")
		return nil, fmt.Errorf("failed to enqueue extraction task: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("collection_id", collectionID).
		Str("group_id", groupID).
		Int("documents", len(docIDs)).
		Int("configurations", len(configs)).
		Msg("Extraction job submitted")

	return job, nil
}

// StopJob requests cancellation. A job that never started terminates here;
// a running job keeps its in-flight work and the driver winds down at its
// next cancellation check.
func (s *Service) StopJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetExtractionJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load extraction job %s: %w", jobID, err)
	}
	if !job.Stoppable() {
		return fmt.Errorf("job %s in status %s: %w", jobID, job.Status, models.ErrJobNotStoppable)
	}

	job.Status = models.JobStatusFailed
	job.ErrorDetails = stopDetail
	if job.StartedAt == nil {
		now := time.Now()
		job.CompletedAt = &now
	}
	if err := s.jobs.SaveExtractionJob(ctx, job); err != nil {
		return fmt.Errorf("failed to stop extraction job %s: %w", jobID, err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Msg("Extraction job stop requested")
	return nil
}

func (s *Service) Job(ctx context.Context, jobID string) (*models.ExtractionJob, error) {
	return s.jobs.GetExtractionJob(ctx, jobID)
}

func (s *Service) Jobs(ctx context.Context, collectionID string, opts *interfaces.ListOptions) ([]*models.ExtractionJob, error) {
	return s.jobs.ListExtractionJobs(ctx, collectionID, opts)
}

// Report renders the job's extracted values as a PDF grid of documents
// against the group's configurations. A running job yields a partial report.
func (s *Service) Report(ctx context.Context, jobID string) ([]byte, error) {
	job, err := s.jobs.GetExtractionJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load extraction job %s: %w", jobID, err)
	}

	report := &interfaces.ExtractionReport{
		Job:            job,
		CollectionName: job.CollectionID,
		GroupName:      job.GroupID,
	}
	if collection, err := s.collections.GetCollection(ctx, job.CollectionID); err == nil {
		report.CollectionName = collection.Name
	}
	if group, err := s.metadata.GetGroup(ctx, job.GroupID); err == nil {
		report.GroupName = group.Name
	}

	configs, err := loadGroupConfigurations(ctx, s.metadata, job.GroupID)
	if err != nil {
		return nil, err
	}
	for _, cfg := range configs {
		report.Configurations = append(report.Configurations, cfg.Name)
	}

	rows, err := s.extracted.ListExtractedByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load extracted values: %w", err)
	}

	valuesByDoc := make(map[string]map[string]string)
	for _, row := range rows {
		if valuesByDoc[row.DocumentID] == nil {
			valuesByDoc[row.DocumentID] = make(map[string]string)
		}
		valuesByDoc[row.DocumentID][row.MetadataName] = row.ExtractedValue
	}

	for docID, values := range valuesByDoc {
		name := docID
		if doc, err := s.documents.GetDocument(ctx, docID); err == nil {
			name = doc.DisplayName
		}
		report.Documents = append(report.Documents, interfaces.ReportDocument{
			DisplayName: name,
			Values:      values,
		})
	}
	sort.Slice(report.Documents, func(i, j int) bool {
		return report.Documents[i].DisplayName < report.Documents[j].DisplayName
	})

	return s.renderer.RenderExtractionReport(report)
}

// readyMembers returns the ids of collection members currently in READY.
func (s *Service) readyMembers(ctx context.Context, collectionID string) ([]string, error) {
	memberships, err := s.collections.ListMemberships(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection members: %w", err)
	}

	docIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		doc, err := s.documents.GetDocument(ctx, m.DocumentID)
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().
				Str("document_id", m.DocumentID).
				Str("collection_id", collectionID).
				Msg("Membership points at a missing document")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load document %s: %w", m.DocumentID, err)
		}
		if doc.Status != models.DocumentStatusReady {
			continue
		}
		docIDs = append(docIDs, doc.ID)
	}
	return docIDs, nil
}

func (s *Service) markFailed(ctx context.Context, job *models.ExtractionJob, detail string) {
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.ErrorDetails = detail
	job.CompletedAt = &now
	if err := s.jobs.SaveExtractionJob(ctx, job); err != nil {
		s.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to record job failure")
	}
}

// loadGroupConfigurations resolves the group's active configurations in
// display order. Links to configurations that no longer resolve are skipped.
func loadGroupConfigurations(ctx context.Context, metadata interfaces.MetadataStorage, groupID string) ([]*models.MetadataConfiguration, error) {
	links, err := metadata.ListLinksByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group configurations: %w", err)
	}

	configs := make([]*models.MetadataConfiguration, 0, len(links))
	for _, link := range links {
		cfg, err := metadata.GetConfiguration(ctx, link.ConfigID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration %s: %w", link.ConfigID, err)
		}
		if !cfg.IsActive {
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
