// -----------------------------------------------------------------------
// Collection Manager - Named document sets and their memberships
// Each collection owns at most one vector index; memberships drive indexing
// -----------------------------------------------------------------------

package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// Service manages collections and their document memberships. Vector index
// contents follow membership changes: removing a document drops its points,
// deleting a collection drops the whole index.
type Service struct {
	store     interfaces.CollectionStorage
	documents interfaces.DocumentStorage
	extracted interfaces.ExtractedStorage
	vectors   interfaces.VectorIndex
	logger    arbor.ILogger
}

var _ interfaces.CollectionService = (*Service)(nil)

func NewService(
	store interfaces.CollectionStorage,
	documents interfaces.DocumentStorage,
	extracted interfaces.ExtractedStorage,
	vectors interfaces.VectorIndex,
	logger arbor.ILogger,
) *Service {
	return &Service{
		store:     store,
		documents: documents,
		extracted: extracted,
		vectors:   vectors,
		logger:    logger,
	}
}

// Create adds a new collection. Names are unique across collections.
func (s *Service) Create(ctx context.Context, name, description, createdBy string) (*models.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	if _, err := s.store.GetCollectionByName(ctx, name); err == nil {
		return nil, fmt.Errorf("collection %q: %w", name, models.ErrDuplicateName)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check collection name: %w", err)
	}

	col := models.NewCollection(name, description, createdBy)
	if err := s.store.SaveCollection(ctx, col); err != nil {
		return nil, fmt.Errorf("failed to save collection: %w", err)
	}

	s.logger.Info().
		Str("collection_id", col.ID).
		Str("name", col.Name).
		Msg("Collection created")

	return col, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Collection, error) {
	return s.store.GetCollection(ctx, id)
}

func (s *Service) GetByName(ctx context.Context, name string) (*models.Collection, error) {
	return s.store.GetCollectionByName(ctx, name)
}

func (s *Service) List(ctx context.Context) ([]*models.Collection, error) {
	return s.store.ListCollections(ctx)
}

// Delete removes the collection, its memberships, the extracted metadata
// scoped to it, and its vector index. The index is dropped first so a
// failure there leaves the collection intact rather than orphaning points.
func (s *Service) Delete(ctx context.Context, id string) error {
	col, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return err
	}

	if col.VectorIndexName != "" {
		if err := s.vectors.DropIndex(ctx, col.VectorIndexName); err != nil {
			return fmt.Errorf("failed to drop vector index %s: %w", col.VectorIndexName, err)
		}
	}

	memberships, err := s.store.ListMemberships(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list memberships: %w", err)
	}
	for _, m := range memberships {
		if err := s.extracted.DeleteExtracted(ctx, id, m.DocumentID); err != nil {
			return fmt.Errorf("failed to delete extracted metadata for document %s: %w", m.DocumentID, err)
		}
	}

	if err := s.store.DeleteMembershipsByCollection(ctx, id); err != nil {
		return fmt.Errorf("failed to delete memberships: %w", err)
	}
	if err := s.store.DeleteCollection(ctx, id); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	s.logger.Info().
		Str("collection_id", id).
		Str("name", col.Name).
		Int("memberships_removed", len(memberships)).
		Msg("Collection deleted")

	return nil
}

// AddDocuments joins documents to the collection and returns the number of
// memberships created. Every document ID is validated before the first
// membership is written, so an unknown ID fails the call without partial
// joins. Documents already in the collection are skipped.
func (s *Service) AddDocuments(ctx context.Context, collectionID string, documentIDs []string) (int, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return 0, err
	}

	ids := dedupe(documentIDs)
	for _, docID := range ids {
		if _, err := s.documents.GetDocument(ctx, docID); err != nil {
			return 0, fmt.Errorf("document %s: %w", docID, err)
		}
	}

	added := 0
	for _, docID := range ids {
		if _, err := s.store.GetMembership(ctx, collectionID, docID); err == nil {
			continue
		} else if !errors.Is(err, models.ErrNotFound) {
			return added, fmt.Errorf("failed to check membership: %w", err)
		}

		m := models.NewCollectionMembership(collectionID, docID)
		if err := s.store.SaveMembership(ctx, m); err != nil {
			return added, fmt.Errorf("failed to save membership: %w", err)
		}
		added++
	}

	s.logger.Info().
		Str("collection_id", collectionID).
		Int("added", added).
		Int("skipped", len(ids)-added).
		Msg("Documents added to collection")

	return added, nil
}

// RemoveDocument drops the membership, the document's extracted metadata in
// this collection, and its points in the collection's vector index. The
// point delete is best effort: stale points are also cleared on reindex.
func (s *Service) RemoveDocument(ctx context.Context, collectionID, documentID string) error {
	col, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if _, err := s.store.GetMembership(ctx, collectionID, documentID); err != nil {
		return err
	}

	if err := s.store.DeleteMembership(ctx, collectionID, documentID); err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if err := s.extracted.DeleteExtracted(ctx, collectionID, documentID); err != nil {
		return fmt.Errorf("failed to delete extracted metadata: %w", err)
	}

	if col.VectorIndexName != "" {
		doc, err := s.documents.GetDocument(ctx, documentID)
		if err != nil {
			s.logger.Warn().
				Str("document_id", documentID).
				Err(err).
				Msg("Skipping vector cleanup for missing document")
		} else if err := s.vectors.DeleteByDocument(ctx, col.VectorIndexName, doc.DisplayName); err != nil {
			s.logger.Warn().
				Str("document_id", documentID).
				Str("index", col.VectorIndexName).
				Err(err).
				Msg("Failed to delete document points from vector index")
		}
	}

	s.logger.Info().
		Str("collection_id", collectionID).
		Str("document_id", documentID).
		Msg("Document removed from collection")

	return nil
}

func (s *Service) Memberships(ctx context.Context, collectionID string) ([]*models.CollectionMembership, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	return s.store.ListMemberships(ctx, collectionID)
}

// EnsureDefault creates the default collection if it does not exist yet.
// Uploads without an explicit collection land here.
func (s *Service) EnsureDefault(ctx context.Context) (*models.Collection, error) {
	col, err := s.store.GetCollectionByName(ctx, models.DefaultCollectionName)
	if err == nil {
		return col, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up default collection: %w", err)
	}

	col = models.NewCollection(models.DefaultCollectionName, "Default collection for uploaded documents", "system")
	if err := s.store.SaveCollection(ctx, col); err != nil {
		return nil, fmt.Errorf("failed to save default collection: %w", err)
	}

	s.logger.Info().
		Str("collection_id", col.ID).
		Msg("Default collection created")

	return col, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
