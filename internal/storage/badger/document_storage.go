package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentStorage implements the DocumentStorage interface for Badger
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes read-modify-write status updates. Badgerhold upserts are
	// atomic per key but a transition check needs the read and the write
	// to happen together.
	mu sync.Mutex
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DocumentStorage) SaveDocument(ctx context.Context, doc *models.SourceDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if err := s.db.Store().Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *DocumentStorage) GetDocument(ctx context.Context, id string) (*models.SourceDocument, error) {
	var doc models.SourceDocument
	if err := s.db.Store().Get(id, &doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *DocumentStorage) GetDocumentByURI(ctx context.Context, sourceURI string) (*models.SourceDocument, error) {
	var docs []models.SourceDocument
	err := s.db.Store().Find(&docs, badgerhold.Where("SourceURI").Eq(sourceURI))
	if err != nil {
		return nil, fmt.Errorf("failed to find document by URI: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("document with source %s: %w", sourceURI, models.ErrNotFound)
	}
	return &docs[0], nil
}

func (s *DocumentStorage) ListDocuments(ctx context.Context, opts *interfaces.ListOptions) ([]*models.SourceDocument, error) {
	query := badgerhold.Where("ID").Ne("") // Select all

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.DocumentStatus(opts.Status))
		}
		if opts.OrderBy == "" || opts.OrderBy == "created_at" {
			query = query.SortBy("CreatedAt")
		} else if opts.OrderBy == "updated_at" {
			query = query.SortBy("UpdatedAt")
		}
		if opts.OrderDir == "desc" {
			query = query.Reverse()
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}

	var docs []models.SourceDocument
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := make([]*models.SourceDocument, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	return result, nil
}

func (s *DocumentStorage) CountDocuments(ctx context.Context, status models.DocumentStatus) (int, error) {
	var query *badgerhold.Query
	if status != "" {
		query = badgerhold.Where("Status").Eq(status)
	}
	count, err := s.db.Store().Count(&models.SourceDocument{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(count), nil
}

func (s *DocumentStorage) DeleteDocument(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.SourceDocument{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// UpdateStatus applies a lifecycle transition. The current status is read
// under the lock so concurrent workers cannot race the same document into
// an illegal state.
func (s *DocumentStorage) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	if err := models.ValidateTransition(doc.Status, status); err != nil {
		return fmt.Errorf("document %s: %w", id, err)
	}

	previous := doc.Status
	doc.Status = status
	doc.StatusDetail = detail
	doc.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	s.logger.Debug().
		Str("document_id", id).
		Str("from", string(previous)).
		Str("to", string(status)).
		Msg("Document status updated")

	return nil
}

// ClaimPending atomically moves the oldest PENDING document to PROCESSING.
func (s *DocumentStorage) ClaimPending(ctx context.Context) (*models.SourceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []models.SourceDocument
	query := badgerhold.Where("Status").Eq(models.DocumentStatusPending).SortBy("CreatedAt").Limit(1)
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to find pending documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, models.ErrNotFound
	}

	doc := docs[0]
	if err := models.ValidateTransition(doc.Status, models.DocumentStatusProcessing); err != nil {
		return nil, err
	}

	doc.Status = models.DocumentStatusProcessing
	doc.StatusDetail = ""
	doc.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(doc.ID, &doc); err != nil {
		return nil, fmt.Errorf("failed to claim document: %w", err)
	}

	return &doc, nil
}

func (s *DocumentStorage) ListStuck(ctx context.Context, status models.DocumentStatus, olderThan time.Duration) ([]*models.SourceDocument, error) {
	cutoff := time.Now().Add(-olderThan)

	var docs []models.SourceDocument
	query := badgerhold.Where("Status").Eq(status).And("UpdatedAt").Lt(cutoff)
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list stuck documents: %w", err)
	}

	result := make([]*models.SourceDocument, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	return result, nil
}
