// -----------------------------------------------------------------------
// Application Wiring - Builds storage, services, and handlers in
// dependency order and tears them down in reverse
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/handlers"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/ternarybob/excerpo/internal/queue"
	"github.com/ternarybob/excerpo/internal/services/blobstore"
	"github.com/ternarybob/excerpo/internal/services/chunker"
	"github.com/ternarybob/excerpo/internal/services/collection"
	"github.com/ternarybob/excerpo/internal/services/documents"
	"github.com/ternarybob/excerpo/internal/services/events"
	"github.com/ternarybob/excerpo/internal/services/extraction"
	"github.com/ternarybob/excerpo/internal/services/indexing"
	"github.com/ternarybob/excerpo/internal/services/ingestion"
	"github.com/ternarybob/excerpo/internal/services/llm"
	"github.com/ternarybob/excerpo/internal/services/mailingest"
	"github.com/ternarybob/excerpo/internal/services/metadata"
	"github.com/ternarybob/excerpo/internal/services/pdf"
	"github.com/ternarybob/excerpo/internal/services/report"
	"github.com/ternarybob/excerpo/internal/services/scheduler"
	"github.com/ternarybob/excerpo/internal/services/seed"
	"github.com/ternarybob/excerpo/internal/services/summarizer"
	"github.com/ternarybob/excerpo/internal/services/vector"
	"github.com/ternarybob/excerpo/internal/storage/badger"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager *badger.Manager

	// Task queue
	Queue     *queue.BadgerQueue
	Processor *queue.Processor

	// Pipeline services
	EventService      interfaces.EventService
	LLMService        interfaces.LLMService
	Embedder          interfaces.Embedder
	VectorService     *vector.Service
	BlobService       *blobstore.Service
	ChunkerService    *chunker.Service
	SummarizerService *summarizer.Service
	DocumentService   interfaces.DocumentService
	CollectionService interfaces.CollectionService
	IngestionService  *ingestion.Service
	IndexingService   interfaces.IndexingService
	MetadataService   interfaces.MetadataService
	ExtractionService interfaces.ExtractionService
	MailService       *mailingest.Service
	Scheduler         *scheduler.Service

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	DocumentHandler   *handlers.DocumentHandler
	CollectionHandler *handlers.CollectionHandler
	MetadataHandler   *handlers.MetadataHandler
	ExtractionHandler *handlers.ExtractionHandler
	WSHandler         *handlers.WebSocketHandler
	LogForwarder      *handlers.LogForwarder
}

// New initializes the application. Background work (queue processor,
// ingestion pool, scheduler) starts only after every service and handler is
// wired, so executors never see a half-built dependency graph.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Event bus and websocket handler come first so every later service can
	// publish and the log forwarder has somewhere to broadcast.
	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		return nil, fmt.Errorf("failed to subscribe event logger: %w", err)
	}
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger)

	app.LogForwarder = handlers.NewLogForwarder(app.WSHandler, &cfg.WebSocket, app.Logger)
	app.Logger.SetChannel("context", app.LogForwarder.Channel())
	app.LogForwarder.Start()

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.bootstrapData(); err != nil {
		return nil, fmt.Errorf("failed to bootstrap data: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	if err := app.Processor.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task processor: %w", err)
	}
	app.IngestionService.Start()
	app.Scheduler.Start()

	logger.Info().
		Str("environment", cfg.Environment).
		Str("llm_provider", string(cfg.LLM.DefaultProvider)).
		Bool("mail_enabled", cfg.Mail.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the Badger store behind every entity storage.
func (a *App) initDatabase() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = manager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices builds all business services in dependency order.
func (a *App) initServices() error {
	cfg := a.Config
	sm := a.StorageManager
	var err error

	// Task queue shares the storage manager's Badger instance.
	visibility := common.ParseDurationOr(cfg.Queue.VisibilityTimeout, 5*time.Minute)
	a.Queue, err = queue.NewBadgerQueue(
		sm.DB().Store().Badger(),
		cfg.Queue.QueueName,
		visibility,
		cfg.Queue.MaxReceive,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize task queue: %w", err)
	}
	a.Logger.Debug().Str("queue_name", cfg.Queue.QueueName).Msg("Task queue initialized")

	// LLM provider. The whole pipeline depends on completions and
	// embeddings, so a missing key fails startup rather than limping on.
	a.LLMService, a.Embedder, err = llm.NewService(cfg, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}
	if err := a.LLMService.HealthCheck(a.ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("LLM health check failed at startup, continuing")
	}

	// NewService verifies the Qdrant connection itself; no separate probe.
	a.VectorService, err = vector.NewService(cfg, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize vector service: %w", err)
	}

	a.BlobService, err = blobstore.NewService(cfg, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	a.ChunkerService = chunker.NewService(cfg, pdf.NewExtractor(a.Logger), a.Logger)
	a.SummarizerService = summarizer.NewService(cfg, a.LLMService, a.Logger)

	a.MetadataService = metadata.NewService(sm.MetadataStorage(), sm.ExtractedStorage(), a.Logger)
	a.CollectionService = collection.NewService(
		sm.CollectionStorage(),
		sm.DocumentStorage(),
		sm.ExtractedStorage(),
		a.VectorService,
		a.Logger,
	)
	a.DocumentService = documents.NewService(
		sm.DocumentStorage(),
		sm.ChunkStorage(),
		sm.CollectionStorage(),
		a.CollectionService,
		a.BlobService,
		a.Logger,
	)
	a.IndexingService = indexing.NewService(
		sm.JobStorage(),
		sm.DocumentStorage(),
		sm.CollectionStorage(),
		a.Queue,
		a.Logger,
	)
	a.IngestionService = ingestion.NewService(
		cfg,
		sm.DocumentStorage(),
		sm.ChunkStorage(),
		sm.CollectionStorage(),
		a.BlobService,
		a.ChunkerService,
		a.SummarizerService,
		a.IndexingService,
		a.EventService,
		a.Logger,
	)
	a.ExtractionService = extraction.NewService(
		sm.JobStorage(),
		sm.DocumentStorage(),
		sm.CollectionStorage(),
		sm.MetadataStorage(),
		sm.ExtractedStorage(),
		a.Queue,
		report.NewService(a.Logger),
		a.Logger,
	)
	a.MailService = mailingest.NewService(cfg, a.DocumentService, a.Logger)

	// Queue executors. The indexer and the extraction driver own the two
	// long-running job types; mailbox polls run as lightweight tasks.
	indexer := ingestion.NewIndexer(
		sm.JobStorage(),
		sm.DocumentStorage(),
		sm.ChunkStorage(),
		sm.CollectionStorage(),
		a.Embedder,
		a.VectorService,
		a.EventService,
		a.Logger,
	)
	driver := extraction.NewDriver(
		cfg,
		sm.JobStorage(),
		sm.DocumentStorage(),
		sm.CollectionStorage(),
		sm.MetadataStorage(),
		sm.ExtractedStorage(),
		extraction.NewExecutor(cfg, a.LLMService, a.Embedder, a.VectorService, sm.ChunkStorage(), a.Logger),
		a.EventService,
		a.Logger,
	)

	pollInterval := common.ParseDurationOr(cfg.Queue.PollInterval, time.Second)
	a.Processor = queue.NewProcessor(a.Queue, pollInterval, visibility, a.Logger)
	a.Processor.RegisterExecutor(models.TaskTypeIndexDocuments, indexer)
	a.Processor.RegisterExecutor(models.TaskTypeRunExtraction, driver)
	a.Processor.RegisterExecutor(models.TaskTypeMailboxPoll, a.MailService)

	return a.initScheduler()
}

// initScheduler registers the maintenance jobs: the stale reaper always, the
// mailbox poll only when mail ingest is configured.
func (a *App) initScheduler() error {
	cfg := a.Config
	a.Scheduler = scheduler.NewService(a.Logger)

	staleAfter := common.ParseDurationOr(cfg.Scheduler.StaleAfter, 15*time.Minute)
	reaper := scheduler.NewReaper(
		a.StorageManager.DocumentStorage(),
		a.StorageManager.JobStorage(),
		a.EventService,
		staleAfter,
		a.Logger,
	)

	staleSchedule := cfg.Scheduler.StaleCheckSchedule
	if staleSchedule == "" {
		staleSchedule = "*/5 * * * *"
	}
	if err := a.Scheduler.Register("stale_reaper", staleSchedule, func() error {
		return reaper.Sweep(a.ctx)
	}); err != nil {
		return fmt.Errorf("failed to register stale reaper: %w", err)
	}

	if cfg.Mail.Enabled {
		mailSchedule := cfg.Mail.Schedule
		if mailSchedule == "" {
			mailSchedule = "*/10 * * * *"
		}
		if err := a.Scheduler.Register("mailbox_poll", mailSchedule, func() error {
			task := models.NewQueueTask(models.TaskTypeMailboxPoll, nil)
			return a.Queue.Enqueue(a.ctx, task)
		}); err != nil {
			return fmt.Errorf("failed to register mailbox poll: %w", err)
		}
	}

	return nil
}

// bootstrapData creates the rows every deployment starts with: the default
// collection, the default metadata group, and any seeded definitions.
func (a *App) bootstrapData() error {
	if _, err := a.CollectionService.EnsureDefault(a.ctx); err != nil {
		return fmt.Errorf("failed to ensure default collection: %w", err)
	}
	if _, err := a.MetadataService.EnsureDefaultGroup(a.ctx); err != nil {
		return fmt.Errorf("failed to ensure default metadata group: %w", err)
	}

	seeder := seed.NewService(a.MetadataService, a.Logger)
	if err := seeder.Apply(a.ctx, a.Config.Seed.File); err != nil {
		// Seeding is convenience, not correctness; a malformed file should
		// not keep the server down.
		a.Logger.Warn().Err(err).Str("file", a.Config.Seed.File).Msg("Seed file could not be applied")
	}
	return nil
}

// initHandlers builds the HTTP surface over the services.
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler(map[string]handlers.HealthChecker{
		"llm":    a.LLMService,
		"vector": a.VectorService,
	}, a.Logger)

	a.DocumentHandler = handlers.NewDocumentHandler(a.DocumentService, a.CollectionService, a.Logger)
	a.CollectionHandler = handlers.NewCollectionHandler(a.CollectionService, a.IndexingService, a.Logger)
	a.MetadataHandler = handlers.NewMetadataHandler(a.MetadataService, a.Logger)
	a.ExtractionHandler = handlers.NewExtractionHandler(a.ExtractionService, a.Logger)

	if err := a.WSHandler.SubscribeToEvents(); err != nil {
		return fmt.Errorf("failed to subscribe websocket handler: %w", err)
	}

	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// Close tears the application down in reverse dependency order. Storage
// closes last so in-flight writes from stopping services still land.
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.IngestionService != nil {
		a.IngestionService.Stop()
	}

	if a.Processor != nil {
		if err := a.Processor.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop task processor")
		}
	}

	if a.LogForwarder != nil {
		a.LogForwarder.Stop()
	}

	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}

	if a.VectorService != nil {
		if err := a.VectorService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close vector service")
		}
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
