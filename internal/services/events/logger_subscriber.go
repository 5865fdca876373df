package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// NewLoggerSubscriber returns a handler that writes every event to the log
// at debug level, pulling out the identifying fields each payload shape
// carries.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case models.StatusResponse:
			logEvent = logEvent.
				Str("document_id", payload.DocumentID).
				Str("status", string(payload.Status))
		case map[string]interface{}:
			if id, ok := payload["job_id"].(string); ok {
				logEvent = logEvent.Str("job_id", id)
			}
			if status, ok := payload["status"].(string); ok {
				logEvent = logEvent.Str("status", status)
			}
			if processed, ok := payload["processed"].(int); ok {
				logEvent = logEvent.Int("processed", processed)
			}
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents attaches the logging subscriber to every known
// event type.
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventDocumentStatusChanged,
		interfaces.EventIndexingProgress,
		interfaces.EventExtractionProgress,
		interfaces.EventJobCompleted,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	return nil
}
