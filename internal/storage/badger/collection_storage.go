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

// CollectionStorage implements the CollectionStorage interface for Badger
type CollectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCollectionStorage creates a new CollectionStorage instance
func NewCollectionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CollectionStorage {
	return &CollectionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CollectionStorage) SaveCollection(ctx context.Context, col *models.Collection) error {
	if col.ID == "" {
		return fmt.Errorf("collection ID is required")
	}

	now := time.Now()
	if col.CreatedAt.IsZero() {
		col.CreatedAt = now
	}
	col.UpdatedAt = now

	if err := s.db.Store().Upsert(col.ID, col); err != nil {
		return fmt.Errorf("failed to save collection: %w", err)
	}
	return nil
}

func (s *CollectionStorage) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	var col models.Collection
	if err := s.db.Store().Get(id, &col); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("collection %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &col, nil
}

func (s *CollectionStorage) GetCollectionByName(ctx context.Context, name string) (*models.Collection, error) {
	var cols []models.Collection
	if err := s.db.Store().Find(&cols, badgerhold.Where("Name").Eq(name)); err != nil {
		return nil, fmt.Errorf("failed to find collection by name: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("collection %q: %w", name, models.ErrNotFound)
	}
	return &cols[0], nil
}

func (s *CollectionStorage) ListCollections(ctx context.Context) ([]*models.Collection, error) {
	var cols []models.Collection
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt")
	if err := s.db.Store().Find(&cols, query); err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	result := make([]*models.Collection, len(cols))
	for i := range cols {
		result[i] = &cols[i]
	}
	return result, nil
}

func (s *CollectionStorage) DeleteCollection(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Collection{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

func (s *CollectionStorage) SaveMembership(ctx context.Context, m *models.CollectionMembership) error {
	if m.CollectionID == "" || m.DocumentID == "" {
		return fmt.Errorf("membership requires collection ID and document ID")
	}

	if m.AddedAt.IsZero() {
		m.AddedAt = time.Now()
	}

	if err := s.db.Store().Upsert(m.Key(), m); err != nil {
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}

func (s *CollectionStorage) GetMembership(ctx context.Context, collectionID, documentID string) (*models.CollectionMembership, error) {
	key := collectionID + "/" + documentID
	var m models.CollectionMembership
	if err := s.db.Store().Get(key, &m); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("membership %s: %w", key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

func (s *CollectionStorage) ListMemberships(ctx context.Context, collectionID string) ([]*models.CollectionMembership, error) {
	var members []models.CollectionMembership
	query := badgerhold.Where("CollectionID").Eq(collectionID).SortBy("AddedAt")
	if err := s.db.Store().Find(&members, query); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	result := make([]*models.CollectionMembership, len(members))
	for i := range members {
		result[i] = &members[i]
	}
	return result, nil
}

func (s *CollectionStorage) ListMembershipsByDocument(ctx context.Context, documentID string) ([]*models.CollectionMembership, error) {
	var members []models.CollectionMembership
	if err := s.db.Store().Find(&members, badgerhold.Where("DocumentID").Eq(documentID)); err != nil {
		return nil, fmt.Errorf("failed to list memberships by document: %w", err)
	}

	result := make([]*models.CollectionMembership, len(members))
	for i := range members {
		result[i] = &members[i]
	}
	return result, nil
}

func (s *CollectionStorage) DeleteMembership(ctx context.Context, collectionID, documentID string) error {
	key := collectionID + "/" + documentID
	if err := s.db.Store().Delete(key, &models.CollectionMembership{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return nil
}

func (s *CollectionStorage) DeleteMembershipsByCollection(ctx context.Context, collectionID string) error {
	err := s.db.Store().DeleteMatching(&models.CollectionMembership{}, badgerhold.Where("CollectionID").Eq(collectionID))
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete memberships: %w", err)
	}
	return nil
}
