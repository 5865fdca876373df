package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Payload keys written with every point. Retrieval filters match on
// PayloadDocumentName, so renaming any of these requires reindexing.
const (
	PayloadDocumentName = "source_document_name"
	PayloadDocumentID   = "document_id"
	PayloadChunkID      = "chunk_id"
	PayloadChunkTitle   = "chunk_title"
	PayloadHasTable     = "has_table"
	PayloadEntityLabel  = "entity_label"
)

// Large filings can push a batch upsert past the default 4MB gRPC cap.
const maxGRPCMessageSize = 50 * 1024 * 1024

// Service talks to Qdrant over gRPC and maps logical index names onto
// prefixed collections so several deployments can share one server.
type Service struct {
	client        *qdrant.Client
	logger        arbor.ILogger
	prefix        string
	timeout       time.Duration
	retryAttempts int
}

var _ interfaces.VectorIndex = (*Service)(nil)

// NewService connects to Qdrant and verifies the server responds before
// returning. A dead vector backend should fail startup, not the first
// indexing job.
func NewService(cfg *common.Config, logger arbor.ILogger) (*Service, error) {
	vcfg := cfg.Vector
	if vcfg.Host == "" {
		vcfg.Host = "localhost"
	}
	if vcfg.Port == 0 {
		vcfg.Port = 6334
	}

	qdrantConfig := &qdrant.Config{
		Host:   vcfg.Host,
		Port:   vcfg.Port,
		UseTLS: vcfg.UseTLS,
		APIKey: vcfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxGRPCMessageSize),
				grpc.MaxCallSendMsgSize(maxGRPCMessageSize),
			),
		},
	}
	if !vcfg.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &Service{
		client:        client,
		logger:        logger,
		prefix:        vcfg.IndexPrefix,
		timeout:       common.ParseDurationOr(vcfg.Timeout, 30*time.Second),
		retryAttempts: vcfg.RetryAttempts,
	}
	if s.retryAttempts <= 0 {
		s.retryAttempts = 3
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}

	logger.Info().
		Str("host", vcfg.Host).
		Int("port", vcfg.Port).
		Str("index_prefix", vcfg.IndexPrefix).
		Msg("Vector index connected")

	return s, nil
}

// EnsureIndex creates the collection with cosine distance when it does not
// exist yet. An existing collection is left untouched, whatever its
// dimension.
func (s *Service) EnsureIndex(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid vector dimension: %d", dimension)
	}

	collection := s.collectionName(name)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.withRetry(ctx, "ensure index", func() error {
		exists, err := s.collectionExists(ctx, collection)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return err
		}

		s.logger.Info().
			Str("collection", collection).
			Int("dimension", dimension).
			Msg("Created vector collection")
		return nil
	})
}

// DropIndex removes the collection and every point in it. Dropping a
// collection that does not exist is not an error.
func (s *Service) DropIndex(ctx context.Context, name string) error {
	collection := s.collectionName(name)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.withRetry(ctx, "drop index", func() error {
		err := s.client.DeleteCollection(ctx, collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		}
		return nil
	})
}

// Upsert writes the batch in a single call. Points that share an ID with an
// existing point replace it.
func (s *Service) Upsert(ctx context.Context, name string, points []interfaces.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	collection := s.collectionName(name)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toQdrantPayload(p.Payload),
		}
	}

	start := time.Now()
	err := s.withRetry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         qdrantPoints,
		})
		return err
	})
	if err != nil {
		return err
	}
	metrics.ObserveVectorUpsert(start)

	s.logger.Debug().
		Str("collection", collection).
		Int("points", len(points)).
		Msg("Upserted vector points")
	return nil
}

// Search returns up to limit hits ordered most similar first. A non-empty
// documentName restricts results to points whose payload carries that source
// document name.
func (s *Service) Search(ctx context.Context, name string, vector []float32, documentName string, limit int) ([]interfaces.SearchHit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid search limit: %d", limit)
	}

	collection := s.collectionName(name)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var results []*qdrant.ScoredPoint
	err := s.withRetry(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         documentNameFilter(documentName),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	hits := make([]interfaces.SearchHit, len(results))
	for i, point := range results {
		hits[i] = interfaces.SearchHit{
			ID:      extractPointID(point.Id),
			Score:   point.Score,
			Payload: fromQdrantPayload(point.Payload),
		}
	}
	return hits, nil
}

// DeleteByDocument removes every point carrying the given source document
// name from the collection.
func (s *Service) DeleteByDocument(ctx context.Context, name string, documentName string) error {
	if documentName == "" {
		return fmt.Errorf("document name is required")
	}

	collection := s.collectionName(name)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.withRetry(ctx, "delete by document", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: documentNameFilter(documentName),
				},
			},
		})
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		}
		return nil
	})
}

// CountPoints reports the point count of a collection. A collection that was
// never created counts as zero.
func (s *Service) CountPoints(ctx context.Context, name string) (uint64, error) {
	collection := s.collectionName(name)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var count uint64
	err := s.withRetry(ctx, "count points", func() error {
		info, err := s.client.GetCollectionInfo(ctx, collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				count = 0
				return nil
			}
			return err
		}
		if info != nil && info.PointsCount != nil {
			count = *info.PointsCount
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// HealthCheck verifies the Qdrant server answers.
func (s *Service) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Service) collectionExists(ctx context.Context, collection string) (bool, error) {
	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return info != nil, nil
}

// collectionName maps a logical index name to the physical Qdrant
// collection.
func (s *Service) collectionName(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "_" + name
}

// withRetry retries transient gRPC failures with doubling backoff starting
// at one second. Anything else returns immediately.
func (s *Service) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt <= s.retryAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				s.logger.Info().
					Str("operation", operation).
					Int("attempts", attempt+1).
					Msg("Vector operation recovered after retry")
			}
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return err
		}
		if attempt == s.retryAttempts {
			break
		}

		s.logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Str("backoff", backoff.String()).
			Msg("Vector operation failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, s.retryAttempts+1, lastErr)
}

// isTransient reports whether a gRPC error is worth retrying. Validation and
// auth failures are permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// pointID maps an arbitrary string ID onto a Qdrant-legal UUID. IDs that
// already parse as UUIDs pass through; everything else hashes to a stable
// UUID so repeated upserts of the same chunk overwrite one point.
func pointID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// documentNameFilter builds the conjunctive payload filter used by both
// search and per-document deletion. Empty means no filter.
func documentNameFilter(documentName string) *qdrant.Filter {
	if documentName == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: PayloadDocumentName,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: documentName},
						},
					},
				},
			},
		},
	}
}

func toQdrantPayload(payload map[string]interface{}) map[string]*qdrant.Value {
	if len(payload) == 0 {
		return nil
	}

	out := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return out
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	if len(payload) == 0 {
		return nil
	}

	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}

func extractPointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	if num := id.GetNum(); num != 0 {
		return fmt.Sprintf("%d", num)
	}
	return ""
}
