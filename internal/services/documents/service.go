// -----------------------------------------------------------------------
// Document Registry - Upload, registration, and lifecycle operations
// Documents enter PENDING here; the ingestion pool advances them from there
// -----------------------------------------------------------------------

package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Service registers source documents and serves their lifecycle operations.
// Content processing happens elsewhere: uploads only store bytes and create
// a PENDING document for the ingestion pool to claim.
type Service struct {
	store       interfaces.DocumentStorage
	chunks      interfaces.ChunkStorage
	colStore    interfaces.CollectionStorage
	collections interfaces.CollectionService
	blobs       interfaces.BlobStore
	markdown    goldmark.Markdown
	logger      arbor.ILogger
}

var _ interfaces.DocumentService = (*Service)(nil)

func NewService(
	store interfaces.DocumentStorage,
	chunks interfaces.ChunkStorage,
	colStore interfaces.CollectionStorage,
	collections interfaces.CollectionService,
	blobs interfaces.BlobStore,
	logger arbor.ILogger,
) *Service {
	return &Service{
		store:       store,
		chunks:      chunks,
		colStore:    colStore,
		collections: collections,
		blobs:       blobs,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithXHTML()),
		),
		logger: logger,
	}
}

// Upload stores raw bytes in the blob store and registers a PENDING document
// pointing at them. The document joins the default collection immediately.
func (s *Service) Upload(ctx context.Context, fileName string, data []byte, displayName, entityLabel string) (*models.SourceDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("upload is empty")
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = filepath.Base(fileName)
	}

	doc := models.NewSourceDocument(displayName, "", entityLabel)

	// Blob names carry the document ID so two uploads of the same file name
	// never overwrite each other.
	blobName := doc.ID + strings.ToLower(filepath.Ext(fileName))
	uri, err := s.blobs.Store(ctx, blobName, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	doc.SourceURI = uri

	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	if err := s.joinDefaultCollection(ctx, doc.ID); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("document_id", doc.ID).
		Str("display_name", doc.DisplayName).
		Int("size_bytes", len(data)).
		Msg("Document uploaded")

	return doc, nil
}

// Register creates a PENDING document for content that already lives at a
// fetchable URI. Registering a URI that is already known returns the
// existing document instead of creating a duplicate.
func (s *Service) Register(ctx context.Context, sourceURI, displayName, entityLabel string) (*models.SourceDocument, error) {
	sourceURI = strings.TrimSpace(sourceURI)
	if sourceURI == "" {
		return nil, fmt.Errorf("source URI is required")
	}
	if err := validateSourceURI(sourceURI); err != nil {
		return nil, err
	}

	existing, err := s.store.GetDocumentByURI(ctx, sourceURI)
	if err == nil {
		s.logger.Debug().
			Str("document_id", existing.ID).
			Str("source_uri", sourceURI).
			Msg("Source already registered")
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if strings.TrimSpace(displayName) == "" {
		displayName = displayNameFromURI(sourceURI)
	}

	doc := models.NewSourceDocument(displayName, sourceURI, entityLabel)
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	if err := s.joinDefaultCollection(ctx, doc.ID); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("document_id", doc.ID).
		Str("source_uri", sourceURI).
		Msg("Document registered")

	return doc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.SourceDocument, error) {
	return s.store.GetDocument(ctx, id)
}

func (s *Service) List(ctx context.Context, opts *interfaces.ListOptions) ([]*models.SourceDocument, error) {
	if opts == nil {
		opts = &interfaces.ListOptions{
			Limit:    50,
			OrderBy:  "created_at",
			OrderDir: "desc",
		}
	}
	return s.store.ListDocuments(ctx, opts)
}

// Status returns the polling view used by upload clients.
func (s *Service) Status(ctx context.Context, id string) (*models.StatusResponse, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.StatusResponse{
		DocumentID:        doc.ID,
		Status:            doc.Status,
		StatusDetail:      doc.StatusDetail,
		MetadataExtracted: doc.MetadataExtracted,
		UpdatedAt:         doc.UpdatedAt,
	}, nil
}

// Reprocess moves a FAILED document back to PENDING so the ingestion pool
// picks it up again. Chunks from the failed run are cleared first.
func (s *Service) Reprocess(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := models.ValidateTransition(doc.Status, models.DocumentStatusPending); err != nil {
		return fmt.Errorf("document %s: %w", id, err)
	}

	if err := s.chunks.DeleteChunks(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := s.store.UpdateStatus(ctx, id, models.DocumentStatusPending, "Queued for reprocessing"); err != nil {
		return err
	}

	s.logger.Info().
		Str("document_id", id).
		Msg("Document queued for reprocessing")

	return nil
}

func (s *Service) Chunks(ctx context.Context, id string) ([]*models.DocumentChunk, error) {
	if _, err := s.store.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return s.chunks.GetChunks(ctx, id)
}

// Preview renders the document's stored chunk markdown as one HTML page,
// chunk titles becoming section headings.
func (s *Service) Preview(ctx context.Context, id string) (string, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}

	chunks, err := s.chunks.GetChunks(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("document %s has no stored content yet (status %s)", id, doc.Status)
	}

	var md strings.Builder
	for _, chunk := range chunks {
		if chunk.Title != "" {
			md.WriteString("## ")
			md.WriteString(chunk.Title)
			md.WriteString("\n\n")
		}
		md.WriteString(chunk.OriginalText)
		md.WriteString("\n\n")
	}

	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(md.String()), &buf); err != nil {
		return "", fmt.Errorf("failed to render preview: %w", err)
	}
	return buf.String(), nil
}

// Delete removes the document and everything hanging off it: memberships,
// extracted metadata, vector points, chunks, and the uploaded blob.
// Memberships go first because the per-collection cleanup resolves vector
// points by the document's display name.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	memberships, err := s.colStore.ListMembershipsByDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list memberships: %w", err)
	}
	for _, m := range memberships {
		if err := s.collections.RemoveDocument(ctx, m.CollectionID, id); err != nil {
			return fmt.Errorf("failed to remove document from collection %s: %w", m.CollectionID, err)
		}
	}

	if err := s.chunks.DeleteChunks(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if err := s.blobs.Delete(ctx, doc.SourceURI); err != nil {
		s.logger.Warn().
			Str("document_id", id).
			Err(err).
			Msg("Failed to delete stored blob")
	}

	s.logger.Info().
		Str("document_id", id).
		Str("display_name", doc.DisplayName).
		Int("collections", len(memberships)).
		Msg("Document deleted")

	return nil
}

func (s *Service) joinDefaultCollection(ctx context.Context, documentID string) error {
	def, err := s.collections.EnsureDefault(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure default collection: %w", err)
	}
	if _, err := s.collections.AddDocuments(ctx, def.ID, []string{documentID}); err != nil {
		return fmt.Errorf("failed to join default collection: %w", err)
	}
	return nil
}

// validateSourceURI accepts the schemes Fetch knows how to dispatch. Bare
// paths are allowed and resolve against the local blob directory.
func validateSourceURI(sourceURI string) error {
	i := strings.Index(sourceURI, "://")
	if i < 0 {
		return nil
	}
	switch sourceURI[:i] {
	case "http", "https", "github", "local":
		return nil
	default:
		return fmt.Errorf("unsupported source URI scheme %q", sourceURI[:i])
	}
}

// displayNameFromURI derives a fallback display name from the last path
// segment of the URI.
func displayNameFromURI(sourceURI string) string {
	rest := sourceURI
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	if strings.HasPrefix(sourceURI, "github://") {
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			rest = rest[:at]
		}
	}

	name := path.Base(strings.TrimSuffix(rest, "/"))
	if name == "." || name == "/" || name == "" {
		return "document"
	}
	return name
}
