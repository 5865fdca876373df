package interfaces

import "context"

// VectorPoint is one embedded chunk ready for upsert into a vector index.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// SearchHit is one scored result from a vector search.
type SearchHit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// VectorIndex abstracts the vector database used for semantic retrieval.
type VectorIndex interface {
	// EnsureIndex creates the named index with the given vector dimension
	// if it does not already exist. Existing indexes are left untouched.
	EnsureIndex(ctx context.Context, name string, dimension int) error

	// DropIndex removes the named index and all its points.
	DropIndex(ctx context.Context, name string) error

	// Upsert writes points into the named index, replacing points that
	// share an ID.
	Upsert(ctx context.Context, name string, points []VectorPoint) error

	// Search returns the closest points to the query vector, most similar
	// first. When documentName is non-empty, only points whose payload
	// carries that source document name are considered.
	Search(ctx context.Context, name string, vector []float32, documentName string, limit int) ([]SearchHit, error)

	// DeleteByDocument removes all points belonging to one source document.
	DeleteByDocument(ctx context.Context, name string, documentName string) error

	// CountPoints reports how many points the named index holds.
	CountPoints(ctx context.Context, name string) (uint64, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the client connection.
	Close() error
}
