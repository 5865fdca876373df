package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Queue.VisibilityTimeout != "5m" {
		t.Errorf("Queue.VisibilityTimeout = %s, want 5m", cfg.Queue.VisibilityTimeout)
	}
	if cfg.Queue.MaxReceive != 3 {
		t.Errorf("Queue.MaxReceive = %d, want 3", cfg.Queue.MaxReceive)
	}
	if cfg.Ingestion.Workers != 3 {
		t.Errorf("Ingestion.Workers = %d, want 3", cfg.Ingestion.Workers)
	}
	if cfg.Ingestion.SummaryWorkers != 8 {
		t.Errorf("Ingestion.SummaryWorkers = %d, want 8", cfg.Ingestion.SummaryWorkers)
	}
	if cfg.Ingestion.ChunkSize != 4000 || cfg.Ingestion.ChunkOverlap != 200 {
		t.Errorf("chunking = %d/%d, want 4000/200", cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	}
	if cfg.Ingestion.PhaseTimeout != "5m" || cfg.Ingestion.FetchTimeout != "30s" {
		t.Errorf("ingestion timeouts = %s/%s, want 5m/30s", cfg.Ingestion.PhaseTimeout, cfg.Ingestion.FetchTimeout)
	}
	if cfg.Extraction.StepDelay != "1s" || cfg.Extraction.ErrorDelay != "2s" {
		t.Errorf("extraction delays = %s/%s, want 1s/2s", cfg.Extraction.StepDelay, cfg.Extraction.ErrorDelay)
	}
	if cfg.Extraction.SearchLimit != 25 {
		t.Errorf("Extraction.SearchLimit = %d, want 25", cfg.Extraction.SearchLimit)
	}
	if cfg.Scheduler.StaleCheckSchedule != "*/5 * * * *" || cfg.Scheduler.StaleAfter != "15m" {
		t.Errorf("scheduler = %s/%s, want */5 cron and 15m", cfg.Scheduler.StaleCheckSchedule, cfg.Scheduler.StaleAfter)
	}
	if cfg.LLM.DefaultProvider != LLMProviderGemini {
		t.Errorf("LLM.DefaultProvider = %s, want gemini", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.RequestsPerMinute != 60 {
		t.Errorf("LLM.RequestsPerMinute = %d, want 60", cfg.LLM.RequestsPerMinute)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFilesFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, "excerpo.toml", `
[server]
port = 9191

[ingestion]
chunk_size = 2000
chunk_overlap = 100

[llm]
default_provider = "claude"
`)

	cfg, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles() error = %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Ingestion.ChunkSize != 2000 || cfg.Ingestion.ChunkOverlap != 100 {
		t.Errorf("chunking = %d/%d, want 2000/100", cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	}
	if cfg.LLM.DefaultProvider != LLMProviderClaude {
		t.Errorf("LLM.DefaultProvider = %s, want claude", cfg.LLM.DefaultProvider)
	}
	// Fields the file does not mention keep their defaults
	if cfg.Queue.MaxReceive != 3 {
		t.Errorf("Queue.MaxReceive = %d, want default 3", cfg.Queue.MaxReceive)
	}
	if cfg.Ingestion.Workers != 3 {
		t.Errorf("Ingestion.Workers = %d, want default 3", cfg.Ingestion.Workers)
	}
}

func TestLoadFromFilesLaterFileWins(t *testing.T) {
	base := writeConfigFile(t, "base.toml", `
[server]
port = 9000

[extraction]
search_limit = 10
`)
	override := writeConfigFile(t, "override.toml", `
[server]
port = 9001
`)

	cfg, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatalf("LoadFromFiles() error = %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001 (later file)", cfg.Server.Port)
	}
	if cfg.Extraction.SearchLimit != 10 {
		t.Errorf("Extraction.SearchLimit = %d, want 10 (earlier file survives)", cfg.Extraction.SearchLimit)
	}
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err == nil {
		t.Fatal("LoadFromFiles() expected error for missing file")
	}
}

func TestLoadFromFilesMalformedTOML(t *testing.T) {
	path := writeConfigFile(t, "broken.toml", "[server\nport = not valid")

	_, err := LoadFromFiles(path)
	if err == nil {
		t.Fatal("LoadFromFiles() expected error for malformed TOML")
	}
	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("error = %v, want parse failure", err)
	}
}

func TestLoadFromFilesEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "excerpo.toml", `
[server]
port = 9191
`)

	t.Setenv("EXCERPO_SERVER_PORT", "9500")
	t.Setenv("EXCERPO_LLM_REQUESTS_PER_MINUTE", "10")
	t.Setenv("EXCERPO_LOG_OUTPUT", "stdout, file")

	cfg, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles() error = %v", err)
	}

	if cfg.Server.Port != 9500 {
		t.Errorf("Server.Port = %d, want 9500 (env beats file)", cfg.Server.Port)
	}
	if cfg.LLM.RequestsPerMinute != 10 {
		t.Errorf("LLM.RequestsPerMinute = %d, want 10", cfg.LLM.RequestsPerMinute)
	}
	if got := strings.Join(cfg.Logging.Output, ","); got != "stdout,file" {
		t.Errorf("Logging.Output = %s, want stdout,file", got)
	}
}

func TestLoadFromFilesProviderKeyFallbacks(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "ambient-gemini")
	t.Setenv("ANTHROPIC_API_KEY", "ambient-claude")
	t.Setenv("EXCERPO_GEMINI_API_KEY", "")
	t.Setenv("EXCERPO_CLAUDE_API_KEY", "")

	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles() error = %v", err)
	}

	if cfg.Gemini.APIKey != "ambient-gemini" {
		t.Errorf("Gemini.APIKey = %s, want ambient-gemini", cfg.Gemini.APIKey)
	}
	if cfg.Claude.APIKey != "ambient-claude" {
		t.Errorf("Claude.APIKey = %s, want ambient-claude", cfg.Claude.APIKey)
	}
}

func TestLoadFromFilesPrefixedKeysWin(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "ambient")
	t.Setenv("EXCERPO_GEMINI_API_KEY", "prefixed-gemini")
	t.Setenv("ANTHROPIC_API_KEY", "ambient")
	t.Setenv("EXCERPO_CLAUDE_API_KEY", "prefixed-claude")

	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles() error = %v", err)
	}

	if cfg.Gemini.APIKey != "prefixed-gemini" {
		t.Errorf("Gemini.APIKey = %s, want prefixed-gemini", cfg.Gemini.APIKey)
	}
	if cfg.Claude.APIKey != "prefixed-claude" {
		t.Errorf("Claude.APIKey = %s, want prefixed-claude", cfg.Claude.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "overlap equal to chunk size",
			mutate:  func(c *Config) { c.Ingestion.ChunkOverlap = c.Ingestion.ChunkSize },
			wantErr: "chunk_overlap",
		},
		{
			name:    "bad duration string",
			mutate:  func(c *Config) { c.Scheduler.StaleAfter = "soon" },
			wantErr: "not a duration",
		},
		{
			name:    "mail enabled without server",
			mutate:  func(c *Config) { c.Mail.Enabled = true },
			wantErr: "mail polling",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid configuration",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.LLM.DefaultProvider = "cohere" },
			wantErr: "invalid configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()

	ApplyFlagOverrides(cfg, 9300, "0.0.0.0")
	if cfg.Server.Port != 9300 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("flags not applied: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	// Zero values leave the config untouched
	ApplyFlagOverrides(cfg, 0, "")
	if cfg.Server.Port != 9300 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("zero flags should not override: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
}

func TestParseDurationOr(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback time.Duration
		want     time.Duration
	}{
		{"empty uses fallback", "", 5 * time.Minute, 5 * time.Minute},
		{"valid parses", "250ms", 5 * time.Minute, 250 * time.Millisecond},
		{"invalid uses fallback", "soon", 30 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDurationOr(tt.value, tt.fallback); got != tt.want {
				t.Errorf("ParseDurationOr(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"prod", true},
		{" PROD ", true},
		{"development", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{Environment: tt.env}
			if got := cfg.IsProduction(); got != tt.want {
				t.Errorf("IsProduction(%q) = %v, want %v", tt.env, got, tt.want)
			}
		})
	}
}
