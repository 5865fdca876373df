package interfaces

import "context"

// BlobResult carries fetched document bytes plus what the fetcher learned
// about them.
type BlobResult struct {
	Data        []byte
	ContentType string
	FileName    string
}

// BlobStore fetches raw document content by source URI. Implementations
// dispatch on URI scheme (file paths, http/https, github).
type BlobStore interface {
	// Fetch retrieves the document bytes for a source URI. Transient
	// failures are retried internally before an error is returned.
	Fetch(ctx context.Context, sourceURI string) (*BlobResult, error)

	// Store writes uploaded bytes to the local blob directory and returns
	// the file URI under which Fetch can find them again.
	Store(ctx context.Context, fileName string, data []byte) (string, error)

	// Delete removes a stored blob. URIs that do not point into the local
	// blob directory are ignored; remote sources are never touched.
	Delete(ctx context.Context, sourceURI string) error
}
