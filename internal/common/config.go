package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment" validate:"omitempty,oneof=development production"`
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Vector      VectorConfig     `toml:"vector"`
	LLM         LLMConfig        `toml:"llm"`
	Gemini      GeminiConfig     `toml:"gemini"`
	Claude      ClaudeConfig     `toml:"claude"`
	Ingestion   IngestionConfig  `toml:"ingestion"`
	Extraction  ExtractionConfig `toml:"extraction"`
	Mail        MailConfig       `toml:"mail"`
	GitHub      GitHubConfig     `toml:"github"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	Logging     LoggingConfig    `toml:"logging"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Seed        SeedConfig       `toml:"seed"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	Blobs  BlobsConfig  `toml:"blobs"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// BlobsConfig controls where uploaded document bytes land on disk
type BlobsConfig struct {
	Dir string `toml:"dir" validate:"required"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often the processor polls for tasks
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - task visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a task can be received before it is dropped
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

// VectorConfig contains Qdrant connection settings
type VectorConfig struct {
	Host   string `toml:"host" validate:"required"`
	Port   int    `toml:"port" validate:"gt=0,lte=65535"`
	APIKey string `toml:"api_key"`
	UseTLS bool   `toml:"use_tls"`
	// IndexPrefix namespaces this deployment's indexes on a shared Qdrant
	IndexPrefix   string `toml:"index_prefix"`
	Timeout       string `toml:"timeout"`
	RetryAttempts int    `toml:"retry_attempts"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider" validate:"omitempty,oneof=gemini claude"`
	// RequestsPerMinute paces outbound LLM calls across all workers
	RequestsPerMinute int `toml:"requests_per_minute" validate:"gte=0"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`           // Completion model (default: "gemini-3-flash-preview")
	EmbeddingModel string  `toml:"embedding_model"` // Embedding model (default: "text-embedding-004")
	Timeout        string  `toml:"timeout"`         // Per-request ceiling as duration string (default: "2m")
	Temperature    float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`      // Completion model (default: "claude-haiku-3-5-20241022")
	MaxTokens   int     `toml:"max_tokens"` // Maximum tokens in response (default: 4096)
	Timeout     string  `toml:"timeout"`    // Per-request ceiling as duration string (default: "2m")
	Temperature float32 `toml:"temperature"`
}

// IngestionConfig controls the document ingestion worker pool
type IngestionConfig struct {
	Workers        int    `toml:"workers" validate:"gt=0"`         // Concurrent ingestion workers
	PollInterval   string `toml:"poll_interval"`                   // How often idle workers look for PENDING documents
	PhaseTimeout   string `toml:"phase_timeout"`                   // Ceiling per pipeline phase (default: "5m")
	FetchTimeout   string `toml:"fetch_timeout"`                   // Ceiling per blob fetch attempt (default: "30s")
	SummaryWorkers int    `toml:"summary_workers" validate:"gt=0"` // Concurrent chunk summarizations per document
	ChunkSize      int    `toml:"chunk_size" validate:"gt=0"`      // Target chunk size in characters
	ChunkOverlap   int    `toml:"chunk_overlap" validate:"gte=0"`  // Overlap carried between adjacent chunks
}

// ExtractionConfig controls metadata extraction job pacing
type ExtractionConfig struct {
	StepDelay   string `toml:"step_delay"`                   // Pause between configurations within a document (default: "1s")
	ErrorDelay  string `toml:"error_delay"`                  // Longer pause after a failed configuration (default: "2s")
	SearchLimit int    `toml:"search_limit" validate:"gt=0"` // Chunks retrieved per extraction query
}

// MailConfig controls the IMAP attachment ingest poller
type MailConfig struct {
	Enabled  bool   `toml:"enabled"`
	Server   string `toml:"server"`   // host:port, e.g. "imap.example.com:993"
	Username string `toml:"username"`
	Password string `toml:"password"`
	Folder   string `toml:"folder"`   // Mailbox to poll (default: "INBOX")
	Schedule string `toml:"schedule"` // Cron schedule for polling (default: "*/10 * * * *")
}

// GitHubConfig holds the token used for github source URIs
type GitHubConfig struct {
	Token string `toml:"token"`
}

// SchedulerConfig controls the background maintenance schedules
type SchedulerConfig struct {
	StaleCheckSchedule string `toml:"stale_check_schedule"` // Cron schedule for the stuck-document reaper (default: "*/5 * * * *")
	StaleAfter         string `toml:"stale_after"`          // How long PROCESSING/INDEXING may run before being failed (default: "15m")
}

type LoggingConfig struct {
	Level         string   `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs (default: "15:04:05.000")
	MinEventLevel string   `toml:"min_event_level"` // Minimum log level to publish to WebSocket clients
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	MinLevel        string   `toml:"min_level"`        // Minimum log level to broadcast ("debug", "info", "warn", "error")
	ExcludePatterns []string `toml:"exclude_patterns"` // Log message patterns to exclude from broadcasting
}

// SeedConfig points at the optional YAML file of groups and configurations
// loaded on startup
type SeedConfig struct {
	File string `toml:"file"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in excerpo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Blobs: BlobsConfig{
				Dir: "./data/blobs",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "excerpo_tasks",
		},
		Vector: VectorConfig{
			Host:          "localhost",
			Port:          6334,
			UseTLS:        false,
			IndexPrefix:   "excerpo",
			Timeout:       "30s",
			RetryAttempts: 3,
		},
		LLM: LLMConfig{
			DefaultProvider:   LLMProviderGemini,
			RequestsPerMinute: 60,
		},
		Gemini: GeminiConfig{
			APIKey:         "", // User must provide API key (no fallback)
			Model:          "gemini-3-flash-preview",
			EmbeddingModel: "text-embedding-004",
			Timeout:        "2m",
			Temperature:    0.2,
		},
		Claude: ClaudeConfig{
			APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   4096,
			Timeout:     "2m",
			Temperature: 0.2,
		},
		Ingestion: IngestionConfig{
			Workers:        3,
			PollInterval:   "2s",
			PhaseTimeout:   "5m",
			FetchTimeout:   "30s",
			SummaryWorkers: 8,
			ChunkSize:      4000,
			ChunkOverlap:   200,
		},
		Extraction: ExtractionConfig{
			StepDelay:   "1s",
			ErrorDelay:  "2s",
			SearchLimit: 25,
		},
		Mail: MailConfig{
			Enabled:  false,
			Folder:   "INBOX",
			Schedule: "*/10 * * * *",
		},
		Scheduler: SchedulerConfig{
			StaleCheckSchedule: "*/5 * * * *",
			StaleAfter:         "15m",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout", "file"},
			MinEventLevel: "info",
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info",
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
			},
		},
		Seed: SeedConfig{
			File: "",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier files. Priority: CLI flags > environment variables > last config
// file > ... > first config file > defaults.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("EXCERPO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("EXCERPO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("EXCERPO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("EXCERPO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if blobsDir := os.Getenv("EXCERPO_BLOBS_DIR"); blobsDir != "" {
		config.Storage.Blobs.Dir = blobsDir
	}

	// Queue configuration
	if pollInterval := os.Getenv("EXCERPO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if visibilityTimeout := os.Getenv("EXCERPO_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("EXCERPO_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}
	if queueName := os.Getenv("EXCERPO_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	// Vector configuration
	if host := os.Getenv("EXCERPO_VECTOR_HOST"); host != "" {
		config.Vector.Host = host
	}
	if port := os.Getenv("EXCERPO_VECTOR_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Vector.Port = p
		}
	}
	if apiKey := os.Getenv("EXCERPO_VECTOR_API_KEY"); apiKey != "" {
		config.Vector.APIKey = apiKey
	}
	if useTLS := os.Getenv("EXCERPO_VECTOR_USE_TLS"); useTLS != "" {
		if t, err := strconv.ParseBool(useTLS); err == nil {
			config.Vector.UseTLS = t
		}
	}
	if prefix := os.Getenv("EXCERPO_VECTOR_INDEX_PREFIX"); prefix != "" {
		config.Vector.IndexPrefix = prefix
	}

	// LLM provider configuration
	if provider := os.Getenv("EXCERPO_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if rpm := os.Getenv("EXCERPO_LLM_REQUESTS_PER_MINUTE"); rpm != "" {
		if r, err := strconv.Atoi(rpm); err == nil {
			config.LLM.RequestsPerMinute = r
		}
	}

	// Gemini configuration
	if apiKey := os.Getenv("EXCERPO_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("EXCERPO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if embeddingModel := os.Getenv("EXCERPO_GEMINI_EMBEDDING_MODEL"); embeddingModel != "" {
		config.Gemini.EmbeddingModel = embeddingModel
	}
	if timeout := os.Getenv("EXCERPO_GEMINI_TIMEOUT"); timeout != "" {
		config.Gemini.Timeout = timeout
	}
	if temperature := os.Getenv("EXCERPO_GEMINI_TEMPERATURE"); temperature != "" {
		if t, err := strconv.ParseFloat(temperature, 32); err == nil {
			config.Gemini.Temperature = float32(t)
		}
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("EXCERPO_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // EXCERPO_ prefix takes priority
	}
	if model := os.Getenv("EXCERPO_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if maxTokens := os.Getenv("EXCERPO_CLAUDE_MAX_TOKENS"); maxTokens != "" {
		if mt, err := strconv.Atoi(maxTokens); err == nil {
			config.Claude.MaxTokens = mt
		}
	}
	if timeout := os.Getenv("EXCERPO_CLAUDE_TIMEOUT"); timeout != "" {
		config.Claude.Timeout = timeout
	}
	if temperature := os.Getenv("EXCERPO_CLAUDE_TEMPERATURE"); temperature != "" {
		if t, err := strconv.ParseFloat(temperature, 32); err == nil {
			config.Claude.Temperature = float32(t)
		}
	}

	// Ingestion configuration
	if workers := os.Getenv("EXCERPO_INGESTION_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Ingestion.Workers = w
		}
	}
	if pollInterval := os.Getenv("EXCERPO_INGESTION_POLL_INTERVAL"); pollInterval != "" {
		config.Ingestion.PollInterval = pollInterval
	}
	if phaseTimeout := os.Getenv("EXCERPO_INGESTION_PHASE_TIMEOUT"); phaseTimeout != "" {
		config.Ingestion.PhaseTimeout = phaseTimeout
	}
	if fetchTimeout := os.Getenv("EXCERPO_INGESTION_FETCH_TIMEOUT"); fetchTimeout != "" {
		config.Ingestion.FetchTimeout = fetchTimeout
	}
	if summaryWorkers := os.Getenv("EXCERPO_INGESTION_SUMMARY_WORKERS"); summaryWorkers != "" {
		if sw, err := strconv.Atoi(summaryWorkers); err == nil {
			config.Ingestion.SummaryWorkers = sw
		}
	}
	if chunkSize := os.Getenv("EXCERPO_INGESTION_CHUNK_SIZE"); chunkSize != "" {
		if cs, err := strconv.Atoi(chunkSize); err == nil {
			config.Ingestion.ChunkSize = cs
		}
	}
	if chunkOverlap := os.Getenv("EXCERPO_INGESTION_CHUNK_OVERLAP"); chunkOverlap != "" {
		if co, err := strconv.Atoi(chunkOverlap); err == nil {
			config.Ingestion.ChunkOverlap = co
		}
	}

	// Extraction configuration
	if stepDelay := os.Getenv("EXCERPO_EXTRACTION_STEP_DELAY"); stepDelay != "" {
		config.Extraction.StepDelay = stepDelay
	}
	if errorDelay := os.Getenv("EXCERPO_EXTRACTION_ERROR_DELAY"); errorDelay != "" {
		config.Extraction.ErrorDelay = errorDelay
	}
	if searchLimit := os.Getenv("EXCERPO_EXTRACTION_SEARCH_LIMIT"); searchLimit != "" {
		if sl, err := strconv.Atoi(searchLimit); err == nil {
			config.Extraction.SearchLimit = sl
		}
	}

	// Mail configuration
	if enabled := os.Getenv("EXCERPO_MAIL_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Mail.Enabled = e
		}
	}
	if server := os.Getenv("EXCERPO_MAIL_SERVER"); server != "" {
		config.Mail.Server = server
	}
	if username := os.Getenv("EXCERPO_MAIL_USERNAME"); username != "" {
		config.Mail.Username = username
	}
	if password := os.Getenv("EXCERPO_MAIL_PASSWORD"); password != "" {
		config.Mail.Password = password
	}
	if folder := os.Getenv("EXCERPO_MAIL_FOLDER"); folder != "" {
		config.Mail.Folder = folder
	}
	if schedule := os.Getenv("EXCERPO_MAIL_SCHEDULE"); schedule != "" {
		config.Mail.Schedule = schedule
	}

	// GitHub configuration
	if token := os.Getenv("EXCERPO_GITHUB_TOKEN"); token != "" {
		config.GitHub.Token = token
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		config.GitHub.Token = token
	}

	// Scheduler configuration
	if schedule := os.Getenv("EXCERPO_SCHEDULER_STALE_CHECK_SCHEDULE"); schedule != "" {
		config.Scheduler.StaleCheckSchedule = schedule
	}
	if staleAfter := os.Getenv("EXCERPO_SCHEDULER_STALE_AFTER"); staleAfter != "" {
		config.Scheduler.StaleAfter = staleAfter
	}

	// Logging configuration
	if level := os.Getenv("EXCERPO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("EXCERPO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("EXCERPO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if minEventLevel := os.Getenv("EXCERPO_LOG_MIN_EVENT_LEVEL"); minEventLevel != "" {
		config.Logging.MinEventLevel = minEventLevel
	}

	// WebSocket configuration
	if minLevel := os.Getenv("EXCERPO_WEBSOCKET_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}

	// Seed configuration
	if seedFile := os.Getenv("EXCERPO_SEED_FILE"); seedFile != "" {
		config.Seed.File = seedFile
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration against its struct tags plus the
// cross-field rules tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("invalid configuration: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Ingestion.ChunkOverlap, c.Ingestion.ChunkSize)
	}

	for name, value := range map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"ingestion.poll_interval":  c.Ingestion.PollInterval,
		"ingestion.phase_timeout":  c.Ingestion.PhaseTimeout,
		"ingestion.fetch_timeout":  c.Ingestion.FetchTimeout,
		"extraction.step_delay":    c.Extraction.StepDelay,
		"extraction.error_delay":   c.Extraction.ErrorDelay,
		"scheduler.stale_after":    c.Scheduler.StaleAfter,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s %q is not a duration: %w", name, value, err)
		}
	}

	if c.Mail.Enabled {
		if c.Mail.Server == "" || c.Mail.Username == "" {
			return fmt.Errorf("invalid configuration: mail polling enabled without server and username")
		}
	}

	return nil
}

// ParseDurationOr parses a duration string, falling back when empty or invalid.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
