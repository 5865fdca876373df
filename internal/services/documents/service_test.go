package documents

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/ternarybob/excerpo/internal/services/collection"
	"github.com/ternarybob/excerpo/internal/storage/badger"
)

type memoryBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	deleted []string
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *memoryBlobStore) Store(ctx context.Context, fileName string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[fileName] = data
	return "local://" + fileName, nil
}

func (m *memoryBlobStore) Fetch(ctx context.Context, sourceURI string) (*interfaces.BlobResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := strings.TrimPrefix(sourceURI, "local://")
	data, ok := m.blobs[name]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &interfaces.BlobResult{Data: data, FileName: name}, nil
}

func (m *memoryBlobStore) Delete(ctx context.Context, sourceURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, sourceURI)
	delete(m.blobs, strings.TrimPrefix(sourceURI, "local://"))
	return nil
}

func (m *memoryBlobStore) deletedURIs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deleted))
	copy(out, m.deleted)
	return out
}

var _ interfaces.BlobStore = (*memoryBlobStore)(nil)

type pointDelete struct {
	index        string
	documentName string
}

type fakeVectors struct {
	mu      sync.Mutex
	deletes []pointDelete
}

func (f *fakeVectors) EnsureIndex(ctx context.Context, name string, dimension int) error { return nil }
func (f *fakeVectors) DropIndex(ctx context.Context, name string) error                  { return nil }
func (f *fakeVectors) Upsert(ctx context.Context, name string, points []interfaces.VectorPoint) error {
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, name string, vector []float32, documentName string, limit int) ([]interfaces.SearchHit, error) {
	return nil, nil
}

func (f *fakeVectors) DeleteByDocument(ctx context.Context, name string, documentName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, pointDelete{index: name, documentName: documentName})
	return nil
}

func (f *fakeVectors) CountPoints(ctx context.Context, name string) (uint64, error) { return 0, nil }
func (f *fakeVectors) HealthCheck(ctx context.Context) error                        { return nil }
func (f *fakeVectors) Close() error                                                 { return nil }

func (f *fakeVectors) recordedDeletes() []pointDelete {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pointDelete, len(f.deletes))
	copy(out, f.deletes)
	return out
}

var _ interfaces.VectorIndex = (*fakeVectors)(nil)

type docsEnv struct {
	svc     *Service
	store   *badger.Manager
	blobs   *memoryBlobStore
	vectors *fakeVectors
	colSvc  *collection.Service
}

func newDocsEnv(t *testing.T) *docsEnv {
	t.Helper()
	logger := arbor.NewLogger()

	store, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs := newMemoryBlobStore()
	vectors := &fakeVectors{}
	colSvc := collection.NewService(
		store.CollectionStorage(),
		store.DocumentStorage(),
		store.ExtractedStorage(),
		vectors,
		logger,
	)
	svc := NewService(
		store.DocumentStorage(),
		store.ChunkStorage(),
		store.CollectionStorage(),
		colSvc,
		blobs,
		logger,
	)
	return &docsEnv{svc: svc, store: store, blobs: blobs, vectors: vectors, colSvc: colSvc}
}

// walkTo advances a PENDING document along lifecycle edges until it reaches
// the target status.
func walkTo(t *testing.T, env *docsEnv, docID string, target models.DocumentStatus) {
	t.Helper()
	ctx := context.Background()
	path := map[models.DocumentStatus][]models.DocumentStatus{
		models.DocumentStatusFailed: {
			models.DocumentStatusProcessing,
			models.DocumentStatusFailed,
		},
		models.DocumentStatusReady: {
			models.DocumentStatusProcessing,
			models.DocumentStatusDocumentStored,
			models.DocumentStatusIndexing,
			models.DocumentStatusReady,
		},
	}
	steps, ok := path[target]
	require.True(t, ok, "no lifecycle path to %s", target)
	for _, step := range steps {
		require.NoError(t, env.store.DocumentStorage().UpdateStatus(ctx, docID, step, ""))
	}
}

func seedChunks(t *testing.T, env *docsEnv, docID string, texts ...string) {
	t.Helper()
	chunks := make([]*models.DocumentChunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.NewDocumentChunk(docID, i, text, false)
	}
	require.NoError(t, env.store.ChunkStorage().SaveChunks(context.Background(), chunks))
}

func TestUploadStoresBlobAndJoinsDefault(t *testing.T) {
	env := newDocsEnv(t)
	ctx := context.Background()

	doc, err := env.svc.Upload(ctx, "Q1 Report.PDF", []byte("%PDF-1.7 body"), "", "ACME Corp")
	require.NoError(t, err)

	assert.Equal(t, models.DocumentStatusPending, doc.Status)
	assert.Equal(t, "Q1 Report.PDF", doc.DisplayName)
	assert.Equal(t, "ACME Corp", doc.EntityLabel)
	assert.Equal(t, "local://"+doc.ID+".pdf", doc.SourceURI)

	blob, err := env.blobs.Fetch(ctx, doc.SourceURI)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 body"), blob.Data)

	def, err := env.colSvc.GetByName(ctx, models.DefaultCollectionName)
	require.NoError(t, err)
	memberships, err := env.colSvc.Memberships(ctx, def.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, doc.ID, memberships[0].DocumentID)
}

func TestUploadRejectsEmptyPayload(t *testing.T) {
	env := newDocsEnv(t)
	ctx := context.Background()

	_, err := env.svc.Upload(ctx, "report.pdf", nil, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	_, err = env.svc.Upload(ctx, "  ", []byte("data"), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file name")
}

func TestRegisterIdempotentByURI(t *testing.T) {
	env := newDocsEnv(t)
	ctx := context.Background()

	uri := "https://filings.example.com/acme/10-k.pdf?download=1"
	first, err := env.svc.Register(ctx, uri, "", "ACME Corp")
	require.NoError(t, err)
	assert.Equal(t, "10-k.pdf", first.DisplayName)
	assert.Equal(t, models.DocumentStatusPending, first.Status)

	second, err := env.svc.Register(ctx, uri, "Ignored Name", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	docs, err := env.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	def, err := env.colSvc.GetByName(ctx, models.DefaultCollectionName)
	require.NoError(t, err)
	memberships, err := env.colSvc.Memberships(ctx, def.ID)
	require.NoError(t, err)
	assert.Len(t, memberships, 1)
}

func TestRegisterRejectsUnknownScheme(t *testing.T) {
	env := newDocsEnv(t)

	_, err := env.svc.Register(context.Background(), "ftp://host/report.pdf", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported source URI scheme "ftp"`)
}

func TestRegisterDerivesGitHubDisplayName(t *testing.T) {
	env := newDocsEnv(t)

	doc, err := env.svc.Register(context.Background(), "github://acme/filings/reports/q1.pdf@main", "", "")
	require.NoError(t, err)
	assert.Equal(t, "q1.pdf", doc.DisplayName)
}

func TestStatusReflectsLifecycle(t *testing.T) {
	env := newDocsEnv(t)
	ctx := context.Background()

	doc, err := env.svc.Upload(ctx, "report.pdf", []byte("data"), "", "")
	require.NoError(t, err)

	status, err := env.svc.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusPending, status.Status)
	assert.False(t, status.MetadataExtracted)

	require.NoError(t, env.store.DocumentStorage().UpdateStatus(ctx, doc.ID, models.DocumentStatusProcessing, ""))
	require.NoError(t, env.store.DocumentStorage().UpdateStatus(ctx, doc.ID, models.DocumentStatusFailed, "conversion crashed"))

	status, err = env.svc.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusFailed, status.Status)
	assert.Equal(t, "conversion crashed", status.StatusDetail)

	_, err = env.svc.Status(ctx, "doc_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReprocessOnlyFromFailed(t *testing.T) {
	env := newDocsEnv(t)
	ctx := context.Background()

	ready, err := env.svc.Upload(ctx, "ready.pdf", []byte("data"), "", "")
	require.NoError(t, err)
	walkTo(t, env, ready.ID, models.DocumentStatusReady)

	err = env.svc.Reprocess(ctx, ready.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	failed, err := env.svc.Upload(ctx, "failed.pdf", []byte("data"), "", "")
	require.NoError(t, err)
	walkTo(t, env, failed.ID, models.DocumentStatusFailed)
	seedChunks(t, env, failed.ID, "partial chunk from the crashed run")

	require.NoError(t, env.svc.Reprocess(ctx, failed.ID))

	status, err := env.svc.Status(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusPending, status.Status)
	assert.Equal(t, "Queued for reprocessing", status.StatusDetail)

	count, err := env.store.ChunkStorage().CountChunks(ctx, failed.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "chunks from the failed run must be cleared")
}

func TestPreviewRendersChunkMarkdown(t *testing.T) {
	env := newDocsEnv(t)
	ctx := context.Background()

	doc, err := env.svc.Upload(ctx, "report.pdf", []byte("data"), "", "")
	require.NoError(t, err)

	intro := models.NewDocumentChunk(doc.ID, 0, "Revenue grew **strongly** this quarter.", false)
	intro.Title = "Revenue Overview"
	table := models.NewDocumentChunk(doc.ID, 1, "| Quarter | Revenue |\n| --- | --- |\n| Q1 | $12.5M |", true)
	require.NoError(t, env.store.ChunkStorage().SaveChunks(ctx, []*models.DocumentChunk{intro, table}))

	html, err := env.svc.Preview(ctx, doc.ID)
	require.NoError(t, err)
	assert.Contains(t, html, "<h2>Revenue Overview</h2>")
	assert.Contains(t, html, "<strong>strongly</strong>")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "$12.5M")
}

func TestPreviewWithoutContentFails(t *testing.T) {
	env := newDocsEnv(t)
	ctx := context.Background()

	doc, err := env.svc.Upload(ctx, "report.pdf", []byte("data"), "", "")
	require.NoError(t, err)

	_, err = env.svc.Preview(ctx, doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stored content")
}

func TestDeleteCascades(t *testing.T) {
	env := newDocsEnv(t)
	ctx := context.Background()

	doc, err := env.svc.Upload(ctx, "alpha.pdf", []byte("%PDF"), "", "")
	require.NoError(t, err)
	other, err := env.svc.Upload(ctx, "beta.pdf", []byte("%PDF"), "", "")
	require.NoError(t, err)
	seedChunks(t, env, doc.ID, "chunk one", "chunk two")

	// A second collection with a live vector index holds both documents.
	filings, err := env.colSvc.Create(ctx, "Filings", "", "tester")
	require.NoError(t, err)
	filings.VectorIndexName = "ix_" + filings.ID
	require.NoError(t, env.store.CollectionStorage().SaveCollection(ctx, filings))
	_, err = env.colSvc.AddDocuments(ctx, filings.ID, []string{doc.ID, other.ID})
	require.NoError(t, err)

	require.NoError(t, env.store.ExtractedStorage().SaveExtracted(ctx, &models.ExtractedMetadata{
		CollectionID: filings.ID,
		DocumentID:   doc.ID,
		GroupID:      "grp_test",
		MetadataName: "Total Revenue",
		ExtractedAt:  time.Now(),
	}))

	require.NoError(t, env.svc.Delete(ctx, doc.ID))

	_, err = env.svc.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	count, err := env.store.ChunkStorage().CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	memberships, err := env.store.CollectionStorage().ListMembershipsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, memberships)

	rows, err := env.store.ExtractedStorage().ListExtracted(ctx, filings.ID, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	deletes := env.vectors.recordedDeletes()
	require.Len(t, deletes, 1, "only the collection with an index sees a point delete")
	assert.Equal(t, pointDelete{index: filings.VectorIndexName, documentName: "alpha.pdf"}, deletes[0])

	assert.Equal(t, []string{doc.SourceURI}, env.blobs.deletedURIs())

	// The other document keeps its membership.
	kept, err := env.colSvc.Memberships(ctx, filings.ID)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, other.ID, kept[0].DocumentID)
}

func TestChunksRequiresDocument(t *testing.T) {
	env := newDocsEnv(t)

	_, err := env.svc.Chunks(context.Background(), "doc_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	env := newDocsEnv(t)
	ctx := context.Background()

	a, err := env.svc.Upload(ctx, "a.pdf", []byte("data"), "", "")
	require.NoError(t, err)
	b, err := env.svc.Upload(ctx, "b.pdf", []byte("data"), "", "")
	require.NoError(t, err)
	walkTo(t, env, a.ID, models.DocumentStatusReady)

	docs, err := env.svc.List(ctx, &interfaces.ListOptions{Status: string(models.DocumentStatusPending)})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, b.ID, docs[0].ID)

	all, err := env.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
