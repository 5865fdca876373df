package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// MetadataHandler serves metadata group and configuration management plus
// reads of extracted values.
type MetadataHandler struct {
	metadata interfaces.MetadataService
	logger   arbor.ILogger
}

func NewMetadataHandler(metadata interfaces.MetadataService, logger arbor.ILogger) *MetadataHandler {
	return &MetadataHandler{
		metadata: metadata,
		logger:   logger,
	}
}

// groupPathParts splits /api/groups/{id}[/...] into its segments after the
// prefix.
func groupPathParts(path string) []string {
	rest := strings.TrimPrefix(path, "/api/groups/")
	return strings.Split(strings.Trim(rest, "/"), "/")
}

func configIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/api/configurations/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

type createGroupRequest struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Color       string   `json:"color"`
	Tags        []string `json:"tags"`
	CreatedBy   string   `json:"created_by"`
}

// CreateGroupHandler creates a metadata group.
func (h *MetadataHandler) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req createGroupRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	group := models.NewMetadataGroup(req.Name, req.Description, req.Color, req.CreatedBy)
	group.Tags = req.Tags
	if err := h.metadata.CreateGroup(r.Context(), group); err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to create metadata group")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("group_id", group.ID).Str("name", group.Name).Msg("Metadata group created")
	WriteJSON(w, http.StatusCreated, group)
}

// groupSummary is a group plus its linked configuration count.
type groupSummary struct {
	*models.MetadataGroup
	ConfigCount int `json:"config_count"`
}

// ListGroupsHandler lists all groups with their configuration counts.
func (h *MetadataHandler) ListGroupsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ctx := r.Context()
	groups, err := h.metadata.ListGroups(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list metadata groups")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	summaries := make([]groupSummary, 0, len(groups))
	for _, group := range groups {
		configs, err := h.metadata.GroupConfigurations(ctx, group.ID)
		if err != nil {
			h.logger.Error().Err(err).Str("group_id", group.ID).Msg("Failed to count group configurations")
			WriteError(w, StatusForError(err), err.Error())
			return
		}
		summaries = append(summaries, groupSummary{MetadataGroup: group, ConfigCount: len(configs)})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"groups": summaries,
		"count":  len(summaries),
	})
}

// GetGroupHandler returns one group with its configurations in display
// order.
func (h *MetadataHandler) GetGroupHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := groupPathParts(r.URL.Path)[0]
	ctx := r.Context()

	group, err := h.metadata.GetGroup(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("group_id", id).Msg("Failed to get metadata group")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	configs, err := h.metadata.GroupConfigurations(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("group_id", id).Msg("Failed to list group configurations")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"group":          group,
		"configurations": configs,
	})
}

type updateGroupRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Color       *string  `json:"color"`
	Tags        []string `json:"tags"`
}

// UpdateGroupHandler applies the provided fields to a group. Renaming the
// default group is rejected by the service.
func (h *MetadataHandler) UpdateGroupHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}

	id := groupPathParts(r.URL.Path)[0]
	var req updateGroupRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	group, err := h.metadata.GetGroup(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("group_id", id).Msg("Failed to get metadata group")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	if req.Name != nil {
		group.Name = *req.Name
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.Color != nil {
		group.Color = *req.Color
	}
	if req.Tags != nil {
		group.Tags = req.Tags
	}

	if err := h.metadata.UpdateGroup(ctx, group); err != nil {
		h.logger.Error().Err(err).Str("group_id", id).Msg("Failed to update metadata group")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("group_id", id).Str("name", group.Name).Msg("Metadata group updated")
	WriteJSON(w, http.StatusOK, group)
}

// DeleteGroupHandler deletes a non-default group. Configurations whose only
// link was this group move to the default group.
func (h *MetadataHandler) DeleteGroupHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := groupPathParts(r.URL.Path)[0]
	if err := h.metadata.DeleteGroup(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("group_id", id).Msg("Failed to delete metadata group")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("group_id", id).Msg("Metadata group deleted")
	WriteSuccess(w, "Group deleted")
}

type cloneGroupRequest struct {
	Name      string `json:"name" validate:"required"`
	CreatedBy string `json:"created_by"`
}

// CloneGroupHandler copies a group under a new name with its configuration
// links at their existing positions.
func (h *MetadataHandler) CloneGroupHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := groupPathParts(r.URL.Path)[0]
	var req cloneGroupRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	clone, err := h.metadata.CloneGroup(r.Context(), id, req.Name, req.CreatedBy)
	if err != nil {
		h.logger.Error().Err(err).Str("group_id", id).Str("name", req.Name).Msg("Failed to clone metadata group")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("source_group_id", id).
		Str("group_id", clone.ID).
		Str("name", clone.Name).
		Msg("Metadata group cloned")
	WriteJSON(w, http.StatusCreated, clone)
}

type reorderRequest struct {
	ConfigID string `json:"config_id" validate:"required"`
	NewOrder *int   `json:"new_order" validate:"required,gte=0"`
}

// ReorderHandler moves a linked configuration to a new position within its
// group.
func (h *MetadataHandler) ReorderHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := groupPathParts(r.URL.Path)[0]
	var req reorderRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.metadata.ReorderConfiguration(r.Context(), id, req.ConfigID, *req.NewOrder); err != nil {
		h.logger.Error().Err(err).
			Str("group_id", id).
			Str("config_id", req.ConfigID).
			Int("new_order", *req.NewOrder).
			Msg("Failed to reorder configuration")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteSuccess(w, "Configuration reordered")
}

type linkConfigurationRequest struct {
	ConfigID string `json:"config_id" validate:"required"`
	AddedBy  string `json:"added_by"`
}

// LinkConfigurationHandler appends an existing configuration to the group's
// display order.
func (h *MetadataHandler) LinkConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := groupPathParts(r.URL.Path)[0]
	var req linkConfigurationRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.metadata.LinkConfiguration(r.Context(), id, req.ConfigID, req.AddedBy); err != nil {
		h.logger.Error().Err(err).
			Str("group_id", id).
			Str("config_id", req.ConfigID).
			Msg("Failed to link configuration to group")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("group_id", id).Str("config_id", req.ConfigID).Msg("Configuration linked to group")
	WriteSuccess(w, "Configuration linked")
}

// UnlinkConfigurationHandler removes a configuration from a group. The last
// link of a configuration cannot be removed.
func (h *MetadataHandler) UnlinkConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	parts := groupPathParts(r.URL.Path)
	if len(parts) < 3 || parts[1] != "configurations" || parts[2] == "" {
		WriteError(w, http.StatusBadRequest, "Expected /api/groups/{id}/configurations/{config_id}")
		return
	}
	groupID, configID := parts[0], parts[2]

	if err := h.metadata.UnlinkConfiguration(r.Context(), groupID, configID); err != nil {
		h.logger.Error().Err(err).
			Str("group_id", groupID).
			Str("config_id", configID).
			Msg("Failed to unlink configuration from group")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("group_id", groupID).Str("config_id", configID).Msg("Configuration unlinked from group")
	WriteSuccess(w, "Configuration unlinked")
}

type createConfigurationRequest struct {
	Name             string                 `json:"name" validate:"required"`
	Description      string                 `json:"description"`
	DataType         string                 `json:"data_type" validate:"omitempty,oneof=text number date boolean"`
	ExtractionPrompt string                 `json:"extraction_prompt" validate:"required"`
	ValidationRules  map[string]interface{} `json:"validation_rules"`
	GroupIDs         []string               `json:"group_ids" validate:"required,min=1"`
	CreatedBy        string                 `json:"created_by"`
}

// CreateConfigurationHandler creates a configuration linked to at least one
// group.
func (h *MetadataHandler) CreateConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req createConfigurationRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	dataType := models.DataType(req.DataType)
	if req.DataType == "" {
		dataType = models.DataTypeText
	}

	cfg := models.NewMetadataConfiguration(req.Name, req.Description, dataType, req.ExtractionPrompt, models.ValidationRules(req.ValidationRules), req.CreatedBy)
	if err := h.metadata.CreateConfiguration(r.Context(), cfg, req.GroupIDs); err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to create metadata configuration")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("config_id", cfg.ID).
		Str("name", cfg.Name).
		Int("groups", len(req.GroupIDs)).
		Msg("Metadata configuration created")
	WriteJSON(w, http.StatusCreated, cfg)
}

// ListConfigurationsHandler lists all configurations.
func (h *MetadataHandler) ListConfigurationsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	configs, err := h.metadata.ListConfigurations(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list metadata configurations")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"configurations": configs,
		"count":          len(configs),
	})
}

// GetConfigurationHandler returns one configuration by ID.
func (h *MetadataHandler) GetConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := configIDFromPath(r.URL.Path)
	cfg, err := h.metadata.GetConfiguration(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("config_id", id).Msg("Failed to get metadata configuration")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, cfg)
}

type updateConfigurationRequest struct {
	Name             *string                `json:"name"`
	Description      *string                `json:"description"`
	DataType         *string                `json:"data_type" validate:"omitempty,oneof=text number date boolean"`
	ExtractionPrompt *string                `json:"extraction_prompt"`
	ValidationRules  map[string]interface{} `json:"validation_rules"`
	IsActive         *bool                  `json:"is_active"`
}

// UpdateConfigurationHandler applies the provided fields to a
// configuration. Changing the prompt bumps its version.
func (h *MetadataHandler) UpdateConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}

	id := configIDFromPath(r.URL.Path)
	var req updateConfigurationRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	cfg, err := h.metadata.GetConfiguration(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("config_id", id).Msg("Failed to get metadata configuration")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	if req.Name != nil {
		cfg.Name = *req.Name
	}
	if req.Description != nil {
		cfg.Description = *req.Description
	}
	if req.DataType != nil {
		cfg.DataType = models.DataType(*req.DataType)
	}
	if req.ExtractionPrompt != nil {
		cfg.ExtractionPrompt = *req.ExtractionPrompt
	}
	if req.ValidationRules != nil {
		cfg.ValidationRules = models.ValidationRules(req.ValidationRules)
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	if err := h.metadata.UpdateConfiguration(ctx, cfg); err != nil {
		h.logger.Error().Err(err).Str("config_id", id).Msg("Failed to update metadata configuration")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("config_id", id).
		Str("name", cfg.Name).
		Int("prompt_version", cfg.ExtractionPromptVersion).
		Msg("Metadata configuration updated")
	WriteJSON(w, http.StatusOK, cfg)
}

// DeleteConfigurationHandler deletes a configuration, its group links, and
// its extracted values.
func (h *MetadataHandler) DeleteConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := configIDFromPath(r.URL.Path)
	if err := h.metadata.DeleteConfiguration(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("config_id", id).Msg("Failed to delete metadata configuration")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("config_id", id).Msg("Metadata configuration deleted")
	WriteSuccess(w, "Configuration deleted")
}

// ListExtractedHandler returns a collection's extracted values as flat rows,
// optionally filtered by document, group, or metadata name.
func (h *MetadataHandler) ListExtractedHandler(w http.ResponseWriter, r *http.Request) {
	collectionID := r.URL.Query().Get("collection_id")
	if collectionID == "" {
		WriteError(w, http.StatusBadRequest, "Query parameter collection_id is required")
		return
	}

	filter := interfaces.ExtractedFilter{
		DocumentID:   r.URL.Query().Get("document_id"),
		GroupID:      r.URL.Query().Get("group_id"),
		MetadataName: r.URL.Query().Get("metadata_name"),
	}

	values, err := h.metadata.ListExtracted(r.Context(), collectionID, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("collection_id", collectionID).Msg("Failed to list extracted metadata")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"collection_id": collectionID,
		"values":        values,
		"count":         len(values),
	})
}

// DeleteDocumentMetadataHandler removes all extracted values for a document
// in a collection.
func (h *MetadataHandler) DeleteDocumentMetadataHandler(w http.ResponseWriter, r *http.Request) {
	collectionID := r.URL.Query().Get("collection_id")
	documentID := r.URL.Query().Get("document_id")
	if collectionID == "" || documentID == "" {
		WriteError(w, http.StatusBadRequest, "Query parameters collection_id and document_id are required")
		return
	}

	if err := h.metadata.DeleteDocumentMetadata(r.Context(), collectionID, documentID); err != nil {
		h.logger.Error().Err(err).
			Str("collection_id", collectionID).
			Str("document_id", documentID).
			Msg("Failed to delete document metadata")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("collection_id", collectionID).
		Str("document_id", documentID).
		Msg("Document metadata deleted")
	WriteSuccess(w, "Document metadata deleted")
}
