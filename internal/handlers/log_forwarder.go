package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/excerpo/internal/common"
)

// logChannelBuffer bounds the batches queued between arbor and the forwarder.
const logChannelBuffer = 10

// defaultExcludePatterns drops the chatter a connected client generates about
// itself, which would otherwise echo forever.
var defaultExcludePatterns = []string{
	"WebSocket client connected",
	"WebSocket client disconnected",
	"HTTP request",
	"HTTP response",
}

// LogForwarder drains the log batch channel arbor is pointed at and
// broadcasts matching entries to websocket clients as "log" frames.
type LogForwarder struct {
	handler         *WebSocketHandler
	logger          arbor.ILogger
	channel         chan []arbormodels.LogEvent
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	minLevel        levels.LogLevel
	excludePatterns []string
}

// NewLogForwarder creates a forwarder for the given websocket handler.
// Attach it with logger.SetChannel(name, forwarder.Channel()) then Start it.
func NewLogForwarder(handler *WebSocketHandler, wsConfig *common.WebSocketConfig, logger arbor.ILogger) *LogForwarder {
	minLevel := levels.InfoLevel
	excludePatterns := defaultExcludePatterns

	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		if len(wsConfig.ExcludePatterns) > 0 {
			excludePatterns = wsConfig.ExcludePatterns
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LogForwarder{
		handler:         handler,
		logger:          logger,
		channel:         make(chan []arbormodels.LogEvent, logChannelBuffer),
		ctx:             ctx,
		cancel:          cancel,
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
	}
}

// Channel returns the channel arbor pushes log batches into.
func (f *LogForwarder) Channel() chan []arbormodels.LogEvent {
	return f.channel
}

// Start launches the forwarding goroutine.
func (f *LogForwarder) Start() {
	f.wg.Add(1)
	go f.forward()
}

// Stop shuts the forwarder down and waits for the drain loop to exit.
func (f *LogForwarder) Stop() {
	f.cancel()
	f.wg.Wait()
}

func (f *LogForwarder) forward() {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log forwarder panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-f.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				if !f.shouldForward(event) {
					continue
				}
				f.handler.BroadcastLog(LogEntry{
					Timestamp: event.Timestamp.Format("15:04:05"),
					Level:     levelLabel(plogToArborLevel(event.Level)),
					Message:   event.Message,
				})
			}
		case <-f.ctx.Done():
			return
		}
	}
}

func (f *LogForwarder) shouldForward(event arbormodels.LogEvent) bool {
	if plogToArborLevel(event.Level) < f.minLevel {
		return false
	}
	for _, pattern := range f.excludePatterns {
		if strings.Contains(event.Message, pattern) {
			return false
		}
	}
	return true
}

func plogToArborLevel(level plog.Level) levels.LogLevel {
	switch level {
	case plog.ErrorLevel:
		return levels.ErrorLevel
	case plog.WarnLevel:
		return levels.WarnLevel
	case plog.InfoLevel:
		return levels.InfoLevel
	case plog.DebugLevel:
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// levelLabel maps arbor levels to the lowercase labels clients render.
func levelLabel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}
