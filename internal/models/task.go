package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task types routed by the queue processor.
const (
	TaskTypeIndexDocuments = "index_documents"
	TaskTypeRunExtraction  = "run_extraction"
	TaskTypeMailboxPoll    = "mailbox_poll"
)

// QueueTask is the durable message that starts background work. The payload
// is a flat map so tasks survive JSON round-trips through the queue.
type QueueTask struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewQueueTask creates a task with a fresh id.
func NewQueueTask(taskType string, payload map[string]interface{}) *QueueTask {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &QueueTask{
		ID:        uuid.New().String(),
		Type:      taskType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Validate checks the minimum shape required for routing.
func (t *QueueTask) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if t.Type == "" {
		return fmt.Errorf("task type is required")
	}
	return nil
}

// GetString retrieves a string payload value.
func (t *QueueTask) GetString(key string) (string, bool) {
	val, ok := t.Payload[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt retrieves an int payload value. JSON round-trips store numbers as
// float64, so both forms are accepted.
func (t *QueueTask) GetInt(key string) (int, bool) {
	val, ok := t.Payload[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// GetBool retrieves a bool payload value.
func (t *QueueTask) GetBool(key string) (bool, bool) {
	val, ok := t.Payload[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// GetStringSlice retrieves a string slice, accepting the []interface{} form
// produced by JSON decoding.
func (t *QueueTask) GetStringSlice(key string) ([]string, bool) {
	val, ok := t.Payload[key]
	if !ok {
		return nil, false
	}
	switch v := val.(type) {
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// ToJSON serializes the task for queue storage.
func (t *QueueTask) ToJSON() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return data, nil
}

// QueueTaskFromJSON deserializes a task received from the queue.
func QueueTaskFromJSON(data []byte) (*QueueTask, error) {
	var task QueueTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}
