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

// ExtractedStorage implements the ExtractedStorage interface for Badger.
// Records key on (collection, document, group, metadata name) so a re-run
// of the same group overwrites previous values instead of duplicating them.
type ExtractedStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewExtractedStorage creates a new ExtractedStorage instance
func NewExtractedStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ExtractedStorage {
	return &ExtractedStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ExtractedStorage) SaveExtracted(ctx context.Context, rec *models.ExtractedMetadata) error {
	if rec.CollectionID == "" || rec.DocumentID == "" || rec.GroupID == "" || rec.MetadataName == "" {
		return fmt.Errorf("extracted record requires collection, document, group, and metadata name")
	}

	if rec.ExtractedAt.IsZero() {
		rec.ExtractedAt = time.Now()
	}

	if err := s.db.Store().Upsert(rec.Key(), rec); err != nil {
		return fmt.Errorf("failed to save extracted metadata: %w", err)
	}
	return nil
}

func (s *ExtractedStorage) GetExtracted(ctx context.Context, collectionID, documentID, groupID, metadataName string) (*models.ExtractedMetadata, error) {
	key := fmt.Sprintf("%s/%s/%s/%s", collectionID, documentID, groupID, metadataName)
	var rec models.ExtractedMetadata
	if err := s.db.Store().Get(key, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("extracted metadata %s: %w", key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get extracted metadata: %w", err)
	}
	return &rec, nil
}

// ListExtracted returns a collection's extracted values. An empty documentID
// lists the whole collection.
func (s *ExtractedStorage) ListExtracted(ctx context.Context, collectionID, documentID string) ([]*models.ExtractedMetadata, error) {
	var recs []models.ExtractedMetadata
	query := badgerhold.Where("CollectionID").Eq(collectionID)
	if documentID != "" {
		query = query.And("DocumentID").Eq(documentID)
	}
	if err := s.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list extracted metadata: %w", err)
	}

	result := make([]*models.ExtractedMetadata, len(recs))
	for i := range recs {
		result[i] = &recs[i]
	}
	return result, nil
}

func (s *ExtractedStorage) ListExtractedByJob(ctx context.Context, jobID string) ([]*models.ExtractedMetadata, error) {
	var recs []models.ExtractedMetadata
	if err := s.db.Store().Find(&recs, badgerhold.Where("ExtractionJobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to list extracted metadata by job: %w", err)
	}

	result := make([]*models.ExtractedMetadata, len(recs))
	for i := range recs {
		result[i] = &recs[i]
	}
	return result, nil
}

func (s *ExtractedStorage) DeleteExtracted(ctx context.Context, collectionID, documentID string) error {
	query := badgerhold.Where("CollectionID").Eq(collectionID).And("DocumentID").Eq(documentID)
	err := s.db.Store().DeleteMatching(&models.ExtractedMetadata{}, query)
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete extracted metadata: %w", err)
	}
	return nil
}

// DeleteExtractedByName removes every stored value for one metadata name
// across all collections and documents. Used when the configuration that
// produced the values is deleted.
func (s *ExtractedStorage) DeleteExtractedByName(ctx context.Context, metadataName string) error {
	query := badgerhold.Where("MetadataName").Eq(metadataName)
	err := s.db.Store().DeleteMatching(&models.ExtractedMetadata{}, query)
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete extracted metadata by name: %w", err)
	}
	return nil
}
