package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/queue"
	"github.com/ternarybob/excerpo/internal/services/blobstore"
	"github.com/ternarybob/excerpo/internal/services/collection"
	"github.com/ternarybob/excerpo/internal/services/documents"
	"github.com/ternarybob/excerpo/internal/services/extraction"
	"github.com/ternarybob/excerpo/internal/services/metadata"
	"github.com/ternarybob/excerpo/internal/services/report"
	"github.com/ternarybob/excerpo/internal/storage/badger"
)

func main() {
	configPath := os.Getenv("EXCERPO_CONFIG")
	if configPath == "" {
		configPath = "excerpo.toml"
	}

	config, err := common.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Minimal console logger; anything chattier corrupts MCP stdio framing.
	logger := arbor.NewLogger().WithConsoleWriter(arbormodels.WriterConfiguration{
		Type:             arbormodels.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	// Badger allows a single process, so the adapter runs against a stopped
	// server or a copy of its data directory.
	storageManager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer storageManager.Close()

	blobService, err := blobstore.NewService(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize blob store")
	}

	// None of the stdio tools touch the vector index, so the collection
	// service runs without one.
	collectionService := collection.NewService(
		storageManager.CollectionStorage(),
		storageManager.DocumentStorage(),
		storageManager.ExtractedStorage(),
		nil,
		logger,
	)

	documentService := documents.NewService(
		storageManager.DocumentStorage(),
		storageManager.ChunkStorage(),
		storageManager.CollectionStorage(),
		collectionService,
		blobService,
		logger,
	)

	metadataService := metadata.NewService(
		storageManager.MetadataStorage(),
		storageManager.ExtractedStorage(),
		logger,
	)

	// start_extraction_job enqueues through the shared task queue; the job
	// runs once the server picks the task up.
	visibility := common.ParseDurationOr(config.Queue.VisibilityTimeout, 5*time.Minute)
	taskQueue, err := queue.NewBadgerQueue(
		storageManager.DB().Store().Badger(),
		config.Queue.QueueName,
		visibility,
		config.Queue.MaxReceive,
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize task queue")
	}

	extractionService := extraction.NewService(
		storageManager.JobStorage(),
		storageManager.DocumentStorage(),
		storageManager.CollectionStorage(),
		storageManager.MetadataStorage(),
		storageManager.ExtractedStorage(),
		taskQueue,
		report.NewService(logger),
		logger,
	)

	mcpServer := server.NewMCPServer(
		"excerpo",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createGetDocumentStatusTool(), handleGetDocumentStatus(documentService, logger))
	mcpServer.AddTool(createListCollectionsTool(), handleListCollections(collectionService, logger))
	mcpServer.AddTool(createGetExtractionJobTool(), handleGetExtractionJob(extractionService, logger))
	mcpServer.AddTool(createListExtractedMetadataTool(), handleListExtractedMetadata(metadataService, logger))
	mcpServer.AddTool(createStartExtractionJobTool(), handleStartExtractionJob(extractionService, logger))

	// Blocks on stdio until the client disconnects.
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
