package badger

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/models"
)

func TestChunkOrdering(t *testing.T) {
	db := newTestDB(t)
	storage := NewChunkStorage(db, arbor.NewLogger())
	ctx := context.Background()

	// Saved out of order, read back in ordinal order.
	chunks := []*models.DocumentChunk{
		models.NewDocumentChunk("doc_1", 2, "third section", false),
		models.NewDocumentChunk("doc_1", 0, "first section", false),
		models.NewDocumentChunk("doc_1", 1, "| a | b |", true),
	}
	if err := storage.SaveChunks(ctx, chunks); err != nil {
		t.Fatalf("Failed to save chunks: %v", err)
	}

	got, err := storage.GetChunks(ctx, "doc_1")
	if err != nil {
		t.Fatalf("Failed to get chunks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(got))
	}
	for i, c := range got {
		if c.ChunkIndex != i {
			t.Errorf("Chunk %d has index %d", i, c.ChunkIndex)
		}
	}
	if !got[1].HasTable {
		t.Error("Expected table flag to survive the round-trip")
	}

	count, err := storage.CountChunks(ctx, "doc_1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("Expected count 3, got %d", count)
	}
}

func TestChunkReplaceOnReindex(t *testing.T) {
	db := newTestDB(t)
	storage := NewChunkStorage(db, arbor.NewLogger())
	ctx := context.Background()

	first := []*models.DocumentChunk{
		models.NewDocumentChunk("doc_2", 0, "original text", false),
		models.NewDocumentChunk("doc_2", 1, "more text", false),
	}
	if err := storage.SaveChunks(ctx, first); err != nil {
		t.Fatal(err)
	}

	// A reindex deletes the old chunks and writes a fresh set.
	if err := storage.DeleteChunks(ctx, "doc_2"); err != nil {
		t.Fatalf("Failed to delete chunks: %v", err)
	}
	second := []*models.DocumentChunk{
		models.NewDocumentChunk("doc_2", 0, "rewritten text", false),
	}
	if err := storage.SaveChunks(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := storage.GetChunks(ctx, "doc_2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 chunk after reindex, got %d", len(got))
	}
	if got[0].OriginalText != "rewritten text" {
		t.Errorf("Expected rewritten chunk, got %q", got[0].OriginalText)
	}

	// Deleting a document with no chunks is not an error.
	if err := storage.DeleteChunks(ctx, "doc_absent"); err != nil {
		t.Errorf("Delete on absent document should be a no-op, got %v", err)
	}
}
