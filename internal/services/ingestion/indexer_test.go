package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/ternarybob/excerpo/internal/services/vector"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
	dim     int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = float32(i + 1)
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int {
	return f.dim
}

func (f *fakeEmbedder) embeddedBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batches...)
}

type fakeVectorIndex struct {
	mu          sync.Mutex
	ensured     map[string]int
	upserts     map[string][]interfaces.VectorPoint
	deletedDocs []string
	ensureErr   error
	upsertErr   error
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{
		ensured: make(map[string]int),
		upserts: make(map[string][]interfaces.VectorPoint),
	}
}

func (f *fakeVectorIndex) EnsureIndex(ctx context.Context, name string, dimension int) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured[name] = dimension
	return nil
}

func (f *fakeVectorIndex) DropIndex(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ensured, name)
	delete(f.upserts, name)
	return nil
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, name string, points []interfaces.VectorPoint) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts[name] = append(f.upserts[name], points...)
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, name string, vec []float32, documentName string, limit int) ([]interfaces.SearchHit, error) {
	return nil, nil
}

func (f *fakeVectorIndex) DeleteByDocument(ctx context.Context, name string, documentName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedDocs = append(f.deletedDocs, documentName)
	return nil
}

func (f *fakeVectorIndex) CountPoints(ctx context.Context, name string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.upserts[name])), nil
}

func (f *fakeVectorIndex) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeVectorIndex) Close() error                          { return nil }

func (f *fakeVectorIndex) upsertedPoints(name string) []interfaces.VectorPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.VectorPoint(nil), f.upserts[name]...)
}

type indexerEnv struct {
	indexer  *Indexer
	env      *testEnv
	embedder *fakeEmbedder
	vectors  *fakeVectorIndex
}

func newIndexerEnv(t *testing.T) *indexerEnv {
	t.Helper()
	env := newTestEnv(t)

	embedder := &fakeEmbedder{dim: 4}
	vectors := newFakeVectorIndex()

	indexer := NewIndexer(
		env.store.JobStorage(),
		env.store.DocumentStorage(),
		env.store.ChunkStorage(),
		env.store.CollectionStorage(),
		embedder,
		vectors,
		nil,
		arbor.NewLogger(),
	)
	return &indexerEnv{indexer: indexer, env: env, embedder: embedder, vectors: vectors}
}

// storedDocument walks a fresh document to DOCUMENT_STORED with summarized
// chunks on disk, ready to be indexed.
func storedDocument(t *testing.T, env *testEnv, displayName string, chunkCount int) *models.SourceDocument {
	t.Helper()
	ctx := context.Background()

	doc := models.NewSourceDocument(displayName, "local://"+displayName, "ACME Corp")
	require.NoError(t, env.store.DocumentStorage().SaveDocument(ctx, doc))

	claimed, err := env.store.DocumentStorage().ClaimPending(ctx)
	require.NoError(t, err)
	require.Equal(t, doc.ID, claimed.ID)

	chunks := make([]*models.DocumentChunk, chunkCount)
	for i := range chunks {
		chunks[i] = models.NewDocumentChunk(doc.ID, i, fmt.Sprintf("Original text %d.", i), i == 0)
		chunks[i].Title = fmt.Sprintf("Section %d", i)
		chunks[i].Summary = fmt.Sprintf("Summary %d.", i)
	}
	require.NoError(t, env.store.ChunkStorage().SaveChunks(ctx, chunks))

	require.NoError(t, env.store.DocumentStorage().UpdateStatus(ctx, doc.ID,
		models.DocumentStatusDocumentStored, "Stored chunks"))

	got, err := env.store.DocumentStorage().GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	return got
}

// indexedCollection creates a collection with a vector index name, joins the
// documents as pending members, and records the pending indexing job.
func indexedCollection(t *testing.T, env *testEnv, docIDs []string) (*models.Collection, *models.IndexingJob) {
	t.Helper()
	ctx := context.Background()

	col := models.NewCollection("Filings", "", "tester")
	col.VectorIndexName = "filings_" + col.ID
	require.NoError(t, env.store.CollectionStorage().SaveCollection(ctx, col))

	for _, docID := range docIDs {
		m := models.NewCollectionMembership(col.ID, docID)
		require.NoError(t, env.store.CollectionStorage().SaveMembership(ctx, m))
	}

	job := models.NewIndexingJob(col.ID, docIDs, models.IndexingJobTypeIndex, "tester")
	require.NoError(t, env.store.JobStorage().SaveIndexingJob(ctx, job))
	return col, job
}

func indexTask(jobID string) *models.QueueTask {
	return models.NewQueueTask(models.TaskTypeIndexDocuments, map[string]interface{}{"job_id": jobID})
}

func TestExecuteIndexesDocument(t *testing.T) {
	ie := newIndexerEnv(t)
	ctx := context.Background()

	doc := storedDocument(t, ie.env, "annual-report-2024.pdf", 2)
	col, job := indexedCollection(t, ie.env, []string{doc.ID})

	require.NoError(t, ie.indexer.Execute(ctx, indexTask(job.ID)))

	finished, err := ie.env.store.JobStorage().GetIndexingJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, finished.Status)
	assert.Equal(t, 1, finished.ProcessedDocuments)
	assert.Equal(t, 0, finished.FailedDocuments)
	assert.NotNil(t, finished.StartedAt)
	assert.NotNil(t, finished.CompletedAt)

	gotDoc, err := ie.env.store.DocumentStorage().GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusReady, gotDoc.Status)

	m, err := ie.env.store.CollectionStorage().GetMembership(ctx, col.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IndexingStatusIndexed, m.IndexingStatus)
	assert.Equal(t, 100, m.IndexingProgress)
	assert.NotNil(t, m.IndexedAt)

	assert.Equal(t, 4, ie.vectors.ensured[col.VectorIndexName])
	assert.Contains(t, ie.vectors.deletedDocs, "annual-report-2024.pdf")

	points := ie.vectors.upsertedPoints(col.VectorIndexName)
	require.Len(t, points, 2)
	assert.Equal(t, "annual-report-2024.pdf", points[0].Payload[vector.PayloadDocumentName])
	assert.Equal(t, doc.ID, points[0].Payload[vector.PayloadDocumentID])
	assert.Equal(t, "Section 0", points[0].Payload[vector.PayloadChunkTitle])
	assert.Equal(t, true, points[0].Payload[vector.PayloadHasTable])
	assert.Equal(t, "ACME Corp", points[0].Payload[vector.PayloadEntityLabel])

	updatedCol, err := ie.env.store.CollectionStorage().GetCollection(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updatedCol.IndexingStats.IndexedDocuments)
	assert.Equal(t, 2, updatedCol.IndexingStats.TotalPoints)
	assert.NotNil(t, updatedCol.IndexingStats.LastIndexedAt)
}

func TestExecuteEmbedsSummariesNotOriginals(t *testing.T) {
	ie := newIndexerEnv(t)

	doc := storedDocument(t, ie.env, "filing.pdf", 2)
	_, job := indexedCollection(t, ie.env, []string{doc.ID})

	require.NoError(t, ie.indexer.Execute(context.Background(), indexTask(job.ID)))

	batches := ie.embedder.embeddedBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"Summary 0.", "Summary 1."}, batches[0])
}

func TestExecuteEmptySummaryFallsBackToOriginalText(t *testing.T) {
	ie := newIndexerEnv(t)
	ctx := context.Background()

	doc := storedDocument(t, ie.env, "filing.pdf", 1)
	chunks, err := ie.env.store.ChunkStorage().GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	chunks[0].Summary = ""
	require.NoError(t, ie.env.store.ChunkStorage().SaveChunks(ctx, chunks))

	_, job := indexedCollection(t, ie.env, []string{doc.ID})
	require.NoError(t, ie.indexer.Execute(ctx, indexTask(job.ID)))

	batches := ie.embedder.embeddedBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"Original text 0."}, batches[0])
}

func TestExecuteEmbeddingFailureFailsDocument(t *testing.T) {
	ie := newIndexerEnv(t)
	ctx := context.Background()
	ie.embedder.err = fmt.Errorf("quota exceeded")

	doc := storedDocument(t, ie.env, "filing.pdf", 1)
	col, job := indexedCollection(t, ie.env, []string{doc.ID})

	require.NoError(t, ie.indexer.Execute(ctx, indexTask(job.ID)))

	finished, err := ie.env.store.JobStorage().GetIndexingJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, finished.Status)
	assert.Equal(t, 0, finished.ProcessedDocuments)
	assert.Equal(t, 1, finished.FailedDocuments)
	assert.Contains(t, finished.ErrorDetails, "quota exceeded")

	gotDoc, err := ie.env.store.DocumentStorage().GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusFailed, gotDoc.Status)
	assert.True(t, strings.HasPrefix(gotDoc.StatusDetail, "index: "),
		"unexpected detail %q", gotDoc.StatusDetail)
	assert.Contains(t, gotDoc.StatusDetail, "quota exceeded")

	m, err := ie.env.store.CollectionStorage().GetMembership(ctx, col.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IndexingStatusFailed, m.IndexingStatus)
	assert.Contains(t, m.ErrorMessage, "quota exceeded")
}

func TestExecutePartialFailureKeepsGoing(t *testing.T) {
	ie := newIndexerEnv(t)
	ctx := context.Background()

	good := storedDocument(t, ie.env, "good.pdf", 1)
	bad := storedDocument(t, ie.env, "bad.pdf", 1)

	// Break the second document by removing its chunks.
	require.NoError(t, ie.env.store.ChunkStorage().DeleteChunks(ctx, bad.ID))

	_, job := indexedCollection(t, ie.env, []string{good.ID, bad.ID})
	require.NoError(t, ie.indexer.Execute(ctx, indexTask(job.ID)))

	finished, err := ie.env.store.JobStorage().GetIndexingJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, finished.Status)
	assert.Equal(t, 1, finished.ProcessedDocuments)
	assert.Equal(t, 1, finished.FailedDocuments)

	goodDoc, err := ie.env.store.DocumentStorage().GetDocument(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusReady, goodDoc.Status)

	badDoc, err := ie.env.store.DocumentStorage().GetDocument(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusFailed, badDoc.Status)
}

func TestExecuteReindexReadyDocument(t *testing.T) {
	ie := newIndexerEnv(t)
	ctx := context.Background()

	doc := storedDocument(t, ie.env, "filing.pdf", 1)
	col, firstJob := indexedCollection(t, ie.env, []string{doc.ID})
	require.NoError(t, ie.indexer.Execute(ctx, indexTask(firstJob.ID)))

	ready, err := ie.env.store.DocumentStorage().GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusReady, ready.Status)

	reindex := models.NewIndexingJob(col.ID, []string{doc.ID}, models.IndexingJobTypeReindex, "tester")
	require.NoError(t, ie.env.store.JobStorage().SaveIndexingJob(ctx, reindex))
	require.NoError(t, ie.indexer.Execute(ctx, indexTask(reindex.ID)))

	finished, err := ie.env.store.JobStorage().GetIndexingJob(ctx, reindex.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, finished.Status)

	gotDoc, err := ie.env.store.DocumentStorage().GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusReady, gotDoc.Status)
}

func TestExecuteSkipsFinishedJob(t *testing.T) {
	ie := newIndexerEnv(t)
	ctx := context.Background()

	doc := storedDocument(t, ie.env, "filing.pdf", 1)
	col, job := indexedCollection(t, ie.env, []string{doc.ID})

	job.Status = models.JobStatusCompleted
	require.NoError(t, ie.env.store.JobStorage().SaveIndexingJob(ctx, job))

	require.NoError(t, ie.indexer.Execute(ctx, indexTask(job.ID)))

	assert.Empty(t, ie.vectors.upsertedPoints(col.VectorIndexName))
	assert.Empty(t, ie.embedder.embeddedBatches())
}

func TestExecuteRejectsTaskWithoutJobID(t *testing.T) {
	ie := newIndexerEnv(t)

	task := models.NewQueueTask(models.TaskTypeIndexDocuments, nil)
	err := ie.indexer.Execute(context.Background(), task)
	assert.Error(t, err)
}

func TestExecuteFailsJobWhenIndexNameMissing(t *testing.T) {
	ie := newIndexerEnv(t)
	ctx := context.Background()

	doc := storedDocument(t, ie.env, "filing.pdf", 1)
	col, job := indexedCollection(t, ie.env, []string{doc.ID})

	col.VectorIndexName = ""
	require.NoError(t, ie.env.store.CollectionStorage().SaveCollection(ctx, col))

	err := ie.indexer.Execute(ctx, indexTask(job.ID))
	assert.Error(t, err)

	finished, err := ie.env.store.JobStorage().GetIndexingJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, finished.Status)
	assert.Contains(t, finished.ErrorDetails, "no vector index name")
}
