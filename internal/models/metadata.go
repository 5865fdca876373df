package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DataType constrains how an extracted value should be interpreted.
type DataType string

const (
	DataTypeText    DataType = "text"
	DataTypeNumber  DataType = "number"
	DataTypeDate    DataType = "date"
	DataTypeBoolean DataType = "boolean"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeText, DataTypeNumber, DataTypeDate, DataTypeBoolean:
		return true
	}
	return false
}

// DefaultGroupColor is applied to groups created without a color.
const DefaultGroupColor = "#6B7280"

// MetadataGroup is a named bundle of configurations. Exactly one group is
// the default; it receives orphaned configurations and cannot be renamed or
// deleted.
type MetadataGroup struct {
	ID          string   `json:"id"` // grp_{uuid}
	Name        string   `json:"name" badgerhold:"index"`
	Description string   `json:"description,omitempty"`
	Color       string   `json:"color,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	IsDefault   bool     `json:"is_default" badgerhold:"index"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMetadataGroup creates a non-default group, applying the default color
// when none is given.
func NewMetadataGroup(name, description, color, createdBy string) *MetadataGroup {
	if color == "" {
		color = DefaultGroupColor
	}
	now := time.Now()
	return &MetadataGroup{
		ID:          fmt.Sprintf("grp_%s", uuid.New().String()),
		Name:        name,
		Description: description,
		Color:       color,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidationRules is the optional per-configuration validation map. Known
// keys: "regex" (results must match or be replaced) and "default" (the
// replacement used instead of the Invalid Format sentinel).
type ValidationRules map[string]interface{}

// Regex returns the validation regex when present.
func (r ValidationRules) Regex() (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r["regex"].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Default returns the replacement value for failed validation when present.
func (r ValidationRules) Default() (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r["default"].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// MetadataConfiguration is a reusable named extractor: a prompt, a data
// type, and optional validation. Every configuration belongs to at least one
// group at all times.
type MetadataConfiguration struct {
	ID          string   `json:"id"`                      // cfg_{uuid}
	Name        string   `json:"name" badgerhold:"index"` // unique case-insensitive
	Description string   `json:"description,omitempty"`
	DataType    DataType `json:"data_type"`

	ExtractionPrompt        string          `json:"extraction_prompt"`
	ExtractionPromptVersion int             `json:"extraction_prompt_version"` // bumped whenever the prompt changes
	ValidationRules         ValidationRules `json:"validation_rules,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMetadataConfiguration creates an active configuration at prompt
// version 1.
func NewMetadataConfiguration(name, description string, dataType DataType, prompt string, rules ValidationRules, createdBy string) *MetadataConfiguration {
	now := time.Now()
	return &MetadataConfiguration{
		ID:                      fmt.Sprintf("cfg_%s", uuid.New().String()),
		Name:                    name,
		Description:             description,
		DataType:                dataType,
		ExtractionPrompt:        prompt,
		ExtractionPromptVersion: 1,
		ValidationRules:         rules,
		IsActive:                true,
		CreatedBy:               createdBy,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// GroupConfigLink ties a configuration to a group with that group's display
// position. Within a group the set of display orders is always a dense
// permutation {0..n-1}.
type GroupConfigLink struct {
	GroupID  string `json:"group_id" badgerhold:"index"`
	ConfigID string `json:"config_id" badgerhold:"index"`

	DisplayOrder int       `json:"display_order"`
	AddedAt      time.Time `json:"added_at"`
	AddedBy      string    `json:"added_by,omitempty"`
}

// NewGroupConfigLink creates a link at the given position.
func NewGroupConfigLink(groupID, configID string, order int, addedBy string) *GroupConfigLink {
	return &GroupConfigLink{
		GroupID:      groupID,
		ConfigID:     configID,
		DisplayOrder: order,
		AddedAt:      time.Now(),
		AddedBy:      addedBy,
	}
}

// Key returns the composite storage key (group_id, config_id).
func (l *GroupConfigLink) Key() string {
	return fmt.Sprintf("%s/%s", l.GroupID, l.ConfigID)
}
