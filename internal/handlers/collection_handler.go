package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// CollectionHandler serves collection CRUD, membership management, and
// indexing job submission.
type CollectionHandler struct {
	collections interfaces.CollectionService
	indexing    interfaces.IndexingService
	logger      arbor.ILogger
}

func NewCollectionHandler(collections interfaces.CollectionService, indexing interfaces.IndexingService, logger arbor.ILogger) *CollectionHandler {
	return &CollectionHandler{
		collections: collections,
		indexing:    indexing,
		logger:      logger,
	}
}

// collectionPathParts splits /api/collections/{id}[/...] into its segments
// after the prefix.
func collectionPathParts(path string) []string {
	rest := strings.TrimPrefix(path, "/api/collections/")
	return strings.Split(strings.Trim(rest, "/"), "/")
}

type createCollectionRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

// CreateCollectionHandler creates an empty collection.
func (h *CollectionHandler) CreateCollectionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req createCollectionRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	col, err := h.collections.Create(r.Context(), req.Name, req.Description, req.CreatedBy)
	if err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to create collection")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("collection_id", col.ID).Str("name", col.Name).Msg("Collection created")
	WriteJSON(w, http.StatusCreated, col)
}

// ListCollectionsHandler lists all collections.
func (h *CollectionHandler) ListCollectionsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	cols, err := h.collections.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list collections")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"collections": cols,
		"count":       len(cols),
	})
}

// GetCollectionHandler returns one collection with its per-document
// membership state.
func (h *CollectionHandler) GetCollectionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := collectionPathParts(r.URL.Path)[0]
	ctx := r.Context()

	col, err := h.collections.Get(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("collection_id", id).Msg("Failed to get collection")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	memberships, err := h.collections.Memberships(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("collection_id", id).Msg("Failed to list memberships")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"collection":     col,
		"memberships":    memberships,
		"document_count": len(memberships),
	})
}

// DeleteCollectionHandler removes the collection, its memberships, and its
// vector index.
func (h *CollectionHandler) DeleteCollectionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := collectionPathParts(r.URL.Path)[0]
	if err := h.collections.Delete(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("collection_id", id).Msg("Failed to delete collection")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("collection_id", id).Msg("Collection deleted")
	WriteSuccess(w, "Collection deleted")
}

type addDocumentsRequest struct {
	DocumentIDs []string `json:"document_ids" validate:"required,min=1"`
}

// AddDocumentsHandler joins documents to the collection. Unknown document
// IDs fail the whole request before any membership is written.
func (h *CollectionHandler) AddDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := collectionPathParts(r.URL.Path)[0]
	var req addDocumentsRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	added, err := h.collections.AddDocuments(r.Context(), id, req.DocumentIDs)
	if err != nil {
		h.logger.Error().Err(err).Str("collection_id", id).Msg("Failed to add documents to collection")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("collection_id", id).
		Int("added", added).
		Int("requested", len(req.DocumentIDs)).
		Msg("Documents added to collection")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"added":     added,
		"requested": len(req.DocumentIDs),
	})
}

// RemoveDocumentHandler drops one membership and the document's points from
// the collection's vector index.
func (h *CollectionHandler) RemoveDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	parts := collectionPathParts(r.URL.Path)
	if len(parts) < 3 || parts[1] != "documents" || parts[2] == "" {
		WriteError(w, http.StatusBadRequest, "Expected /api/collections/{id}/documents/{document_id}")
		return
	}
	collectionID, documentID := parts[0], parts[2]

	if err := h.collections.RemoveDocument(r.Context(), collectionID, documentID); err != nil {
		h.logger.Error().Err(err).
			Str("collection_id", collectionID).
			Str("document_id", documentID).
			Msg("Failed to remove document from collection")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("collection_id", collectionID).
		Str("document_id", documentID).
		Msg("Document removed from collection")
	WriteSuccess(w, "Document removed from collection")
}

type startIndexingRequest struct {
	DocumentIDs []string `json:"document_ids"`
	Type        string   `json:"type" validate:"omitempty,oneof=index reindex"`
	CreatedBy   string   `json:"created_by"`
}

// StartIndexingHandler submits an indexing job for the collection. An empty
// body indexes every document in the collection.
func (h *CollectionHandler) StartIndexingHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := collectionPathParts(r.URL.Path)[0]

	var req startIndexingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	jobType := models.IndexingJobTypeIndex
	if req.Type != "" {
		jobType = models.IndexingJobType(req.Type)
	}

	job, err := h.indexing.SubmitJob(r.Context(), id, req.DocumentIDs, jobType, req.CreatedBy)
	if err != nil {
		h.logger.Error().Err(err).Str("collection_id", id).Msg("Failed to submit indexing job")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("collection_id", id).
		Str("job_type", string(jobType)).
		Int("documents", job.TotalDocuments).
		Msg("Indexing job submitted")
	WriteJSON(w, http.StatusAccepted, job)
}

// GetIndexingJobHandler returns one indexing job by ID.
func (h *CollectionHandler) GetIndexingJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/indexing/")
	if idx := strings.Index(id, "/"); idx >= 0 {
		id = id[:idx]
	}

	job, err := h.indexing.Job(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Msg("Failed to get indexing job")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// ListIndexingJobsHandler lists a collection's indexing jobs, newest first.
func (h *CollectionHandler) ListIndexingJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	collectionID := r.URL.Query().Get("collection_id")
	if collectionID == "" {
		WriteError(w, http.StatusBadRequest, "Query parameter collection_id is required")
		return
	}

	page, pageSize := GetPaginationParams(r)
	jobs, err := h.indexing.Jobs(r.Context(), collectionID, &interfaces.ListOptions{
		Limit:    pageSize,
		Offset:   page * pageSize,
		OrderBy:  "created_at",
		OrderDir: "desc",
	})
	if err != nil {
		h.logger.Error().Err(err).Str("collection_id", collectionID).Msg("Failed to list indexing jobs")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":      jobs,
		"count":     len(jobs),
		"page":      page,
		"page_size": pageSize,
	})
}
