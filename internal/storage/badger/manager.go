package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	document   interfaces.DocumentStorage
	chunk      interfaces.ChunkStorage
	collection interfaces.CollectionStorage
	metadata   interfaces.MetadataStorage
	job        interfaces.JobStorage
	extracted  interfaces.ExtractedStorage
	logger     arbor.ILogger
}

var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		document:   NewDocumentStorage(db, logger),
		chunk:      NewChunkStorage(db, logger),
		collection: NewCollectionStorage(db, logger),
		metadata:   NewMetadataStorage(db, logger),
		job:        NewJobStorage(db, logger),
		extracted:  NewExtractedStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// DocumentStorage returns the Document storage interface
func (m *Manager) DocumentStorage() interfaces.DocumentStorage {
	return m.document
}

// ChunkStorage returns the Chunk storage interface
func (m *Manager) ChunkStorage() interfaces.ChunkStorage {
	return m.chunk
}

// CollectionStorage returns the Collection storage interface
func (m *Manager) CollectionStorage() interfaces.CollectionStorage {
	return m.collection
}

// MetadataStorage returns the Metadata storage interface
func (m *Manager) MetadataStorage() interfaces.MetadataStorage {
	return m.metadata
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ExtractedStorage returns the Extracted metadata storage interface
func (m *Manager) ExtractedStorage() interfaces.ExtractedStorage {
	return m.extracted
}

// DB returns the underlying database so the task queue can share it.
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
