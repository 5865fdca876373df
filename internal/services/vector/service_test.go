package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPointIDPassesThroughUUIDs(t *testing.T) {
	raw := uuid.New().String()
	assert.Equal(t, raw, pointID(raw))
}

func TestPointIDHashesOpaqueIDsStably(t *testing.T) {
	first := pointID("chk_not-a-uuid")
	second := pointID("chk_not-a-uuid")
	other := pointID("chk_different")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)

	// The derived ID must itself be a UUID or Qdrant rejects the point.
	_, err := uuid.Parse(first)
	assert.NoError(t, err)
}

func TestCollectionNamePrefixing(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		index  string
		want   string
	}{
		{"with prefix", "excerpo", "default_col_default", "excerpo_default_col_default"},
		{"empty prefix", "", "default_col_default", "default_col_default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Service{prefix: tt.prefix}
			assert.Equal(t, tt.want, s.collectionName(tt.index))
		})
	}
}

func TestDocumentNameFilter(t *testing.T) {
	filter := documentNameFilter("annual-report-2024.pdf")
	if filter == nil {
		t.Fatal("expected a filter for a non-empty document name")
	}
	if len(filter.Must) != 1 {
		t.Fatalf("expected exactly one must condition, got %d", len(filter.Must))
	}

	field := filter.Must[0].GetField()
	if field == nil {
		t.Fatal("expected a field condition")
	}
	assert.Equal(t, PayloadDocumentName, field.Key)
	assert.Equal(t, "annual-report-2024.pdf", field.Match.GetKeyword())
}

func TestDocumentNameFilterEmpty(t *testing.T) {
	assert.Nil(t, documentNameFilter(""))
}

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		PayloadDocumentName: "filing.pdf",
		PayloadChunkTitle:   "Revenue Overview",
		PayloadHasTable:     true,
		"chunk_index":       int64(4),
		"score_hint":        0.25,
	}

	out := fromQdrantPayload(toQdrantPayload(in))

	assert.Equal(t, "filing.pdf", out[PayloadDocumentName])
	assert.Equal(t, "Revenue Overview", out[PayloadChunkTitle])
	assert.Equal(t, true, out[PayloadHasTable])
	assert.Equal(t, int64(4), out["chunk_index"])
	assert.Equal(t, 0.25, out["score_hint"])
}

func TestPayloadConversionInt(t *testing.T) {
	// Plain ints widen to int64 on the wire.
	out := fromQdrantPayload(toQdrantPayload(map[string]interface{}{"n": 7}))
	assert.Equal(t, int64(7), out["n"])
}

func TestPayloadConversionEmpty(t *testing.T) {
	assert.Nil(t, toQdrantPayload(nil))
	assert.Nil(t, toQdrantPayload(map[string]interface{}{}))
	assert.Nil(t, fromQdrantPayload(nil))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), true},
		{"deadline exceeded", status.Error(codes.DeadlineExceeded, "timed out"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "too many requests"), true},
		{"aborted", status.Error(codes.Aborted, "conflict"), true},
		{"not found", status.Error(codes.NotFound, "no such collection"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad vector size"), false},
		{"unauthenticated", status.Error(codes.Unauthenticated, "bad api key"), false},
		{"plain error", errors.New("not a grpc error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetryPermanentErrorFailsFast(t *testing.T) {
	s := &Service{logger: arbor.NewLogger(), retryAttempts: 3}

	calls := 0
	permanent := status.Error(codes.InvalidArgument, "bad request")
	err := s.withRetry(context.Background(), "test op", func() error {
		calls++
		return permanent
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, permanent, err)
}

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	s := &Service{logger: arbor.NewLogger(), retryAttempts: 3}

	calls := 0
	err := s.withRetry(context.Background(), "test op", func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryHonorsCancelledContext(t *testing.T) {
	s := &Service{logger: arbor.NewLogger(), retryAttempts: 3}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := s.withRetry(ctx, "test op", func() error {
		calls++
		return status.Error(codes.Unavailable, "down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExtractPointID(t *testing.T) {
	id := uuid.New().String()

	assert.Equal(t, id, extractPointID(qdrant.NewIDUUID(id)))
	assert.Equal(t, "42", extractPointID(qdrant.NewIDNum(42)))
	assert.Equal(t, "", extractPointID(nil))
}

func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	// No client wired up: an empty batch must return before touching it.
	s := &Service{logger: arbor.NewLogger()}
	assert.NoError(t, s.Upsert(context.Background(), "idx", nil))
}

func TestSearchRejectsNonPositiveLimit(t *testing.T) {
	s := &Service{logger: arbor.NewLogger()}
	_, err := s.Search(context.Background(), "idx", []float32{0.1}, "", 0)
	assert.Error(t, err)
}

func TestEnsureIndexRejectsNonPositiveDimension(t *testing.T) {
	s := &Service{logger: arbor.NewLogger()}
	for _, dim := range []int{0, -5} {
		err := s.EnsureIndex(context.Background(), "idx", dim)
		if err == nil {
			t.Errorf("EnsureIndex with dimension %d should fail", dim)
		}
	}
}

func TestDeleteByDocumentRequiresName(t *testing.T) {
	s := &Service{logger: arbor.NewLogger()}
	err := s.DeleteByDocument(context.Background(), "idx", "")
	assert.Error(t, err)
}
