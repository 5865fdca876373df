package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/app"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/server"
)

// configPaths allows the -config flag to be repeated; later files override
// earlier ones.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Excerpo version %s\n", common.GetVersion())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Auto-discover a config file when none was given.
	if len(configFiles) == 0 {
		if _, err := os.Stat("excerpo.toml"); err == nil {
			configFiles = append(configFiles, "excerpo.toml")
		} else if _, err := os.Stat("deployments/local/excerpo.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/excerpo.toml")
		}
	}

	// Load order: defaults -> config files -> environment -> CLI flags.
	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, finalPort, *serverHost)

	logger = common.InitLogger(config)
	common.InstallCrashHandler(crashLogDir(logger))
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("badger_path", config.Storage.Badger.Path).
		Str("blobs_dir", config.Storage.Blobs.Dir).
		Str("log_level", config.Logging.Level).
		Msg("Configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	srv := server.New(application)

	common.SafeGo(logger, "http-server", func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	})

	// Give the listener a moment before announcing readiness.
	time.Sleep(100 * time.Millisecond)

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}

// crashLogDir mirrors the logger's file location so crash reports land next
// to the regular logs.
func crashLogDir(logger arbor.ILogger) string {
	if path := common.GetLogFilePath(logger); path != "" {
		return filepath.Dir(path)
	}
	return "./logs"
}
