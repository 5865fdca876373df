package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ChunkStorage implements the ChunkStorage interface for Badger
type ChunkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewChunkStorage creates a new ChunkStorage instance
func NewChunkStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ChunkStorage {
	return &ChunkStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ChunkStorage) SaveChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	for _, chunk := range chunks {
		if chunk.DocumentID == "" {
			return fmt.Errorf("chunk document ID is required")
		}
		if err := s.db.Store().Upsert(chunk.Key(), chunk); err != nil {
			return fmt.Errorf("failed to save chunk %d of %s: %w", chunk.ChunkIndex, chunk.DocumentID, err)
		}
	}
	return nil
}

func (s *ChunkStorage) GetChunks(ctx context.Context, documentID string) ([]*models.DocumentChunk, error) {
	var chunks []models.DocumentChunk
	query := badgerhold.Where("DocumentID").Eq(documentID).SortBy("ChunkIndex")
	if err := s.db.Store().Find(&chunks, query); err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}

	result := make([]*models.DocumentChunk, len(chunks))
	for i := range chunks {
		result[i] = &chunks[i]
	}
	return result, nil
}

func (s *ChunkStorage) CountChunks(ctx context.Context, documentID string) (int, error) {
	count, err := s.db.Store().Count(&models.DocumentChunk{}, badgerhold.Where("DocumentID").Eq(documentID))
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(count), nil
}

func (s *ChunkStorage) DeleteChunks(ctx context.Context, documentID string) error {
	err := s.db.Store().DeleteMatching(&models.DocumentChunk{}, badgerhold.Where("DocumentID").Eq(documentID))
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
