package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// maxUploadSize bounds a single document upload.
const maxUploadSize = 64 << 20

// DocumentHandler serves document registration, lifecycle polling, and
// preview requests.
type DocumentHandler struct {
	documents   interfaces.DocumentService
	collections interfaces.CollectionService
	logger      arbor.ILogger
}

func NewDocumentHandler(documents interfaces.DocumentService, collections interfaces.CollectionService, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{
		documents:   documents,
		collections: collections,
		logger:      logger,
	}
}

// documentIDFromPath extracts the document ID segment from
// /api/documents/{id}[/suffix].
func documentIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/api/documents/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

type registerDocumentRequest struct {
	URI         string `json:"uri" validate:"required"`
	DisplayName string `json:"display_name"`
	EntityLabel string `json:"entity_label"`
}

// UploadDocumentHandler registers a new document from either a multipart
// file upload or a JSON body naming a fetchable URI.
func (h *DocumentHandler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.uploadFile(w, r)
		return
	}
	h.registerURI(w, r)
}

func (h *DocumentHandler) uploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		h.logger.Error().Err(err).Str("file_name", header.Filename).Msg("Failed to read uploaded file")
		WriteError(w, http.StatusInternalServerError, "Failed to read uploaded file")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "Uploaded file is empty")
		return
	}
	if int64(len(data)) > maxUploadSize {
		WriteError(w, http.StatusRequestEntityTooLarge, "Uploaded file exceeds the size limit")
		return
	}

	doc, err := h.documents.Upload(r.Context(), header.Filename, data, r.FormValue("display_name"), r.FormValue("entity_label"))
	if err != nil {
		h.logger.Error().Err(err).Str("file_name", header.Filename).Msg("Failed to upload document")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("document_id", doc.ID).
		Str("file_name", header.Filename).
		Int("size_bytes", len(data)).
		Msg("Document uploaded")
	WriteJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) registerURI(w http.ResponseWriter, r *http.Request) {
	var req registerDocumentRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	doc, err := h.documents.Register(r.Context(), req.URI, req.DisplayName, req.EntityLabel)
	if err != nil {
		h.logger.Error().Err(err).Str("uri", req.URI).Msg("Failed to register document")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("document_id", doc.ID).
		Str("uri", req.URI).
		Msg("Document registered")
	WriteJSON(w, http.StatusCreated, doc)
}

// ListDocumentsHandler lists documents with optional status and collection
// filters. The collection filter walks memberships, so its paging happens
// after the join.
func (h *DocumentHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !models.DocumentStatus(status).Valid() {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", status))
		return
	}

	page, pageSize := GetPaginationParams(r)

	if collectionID := r.URL.Query().Get("collection_id"); collectionID != "" {
		h.listByCollection(w, r, collectionID, status, page, pageSize)
		return
	}

	docs, err := h.documents.List(r.Context(), &interfaces.ListOptions{
		Status:   status,
		Limit:    pageSize,
		Offset:   page * pageSize,
		OrderBy:  "created_at",
		OrderDir: "desc",
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list documents")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *DocumentHandler) listByCollection(w http.ResponseWriter, r *http.Request, collectionID, status string, page, pageSize int) {
	ctx := r.Context()

	if _, err := h.collections.Get(ctx, collectionID); err != nil {
		h.logger.Error().Err(err).Str("collection_id", collectionID).Msg("Failed to load collection for document list")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	memberships, err := h.collections.Memberships(ctx, collectionID)
	if err != nil {
		h.logger.Error().Err(err).Str("collection_id", collectionID).Msg("Failed to list memberships")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	docs := make([]*models.SourceDocument, 0, len(memberships))
	for _, m := range memberships {
		doc, err := h.documents.Get(ctx, m.DocumentID)
		if err != nil {
			// Membership rows can outlive a racing delete; skip them.
			continue
		}
		if status != "" && string(doc.Status) != status {
			continue
		}
		docs = append(docs, doc)
	}

	total := len(docs)
	start := page * pageSize
	if start >= total {
		docs = []*models.SourceDocument{}
	} else {
		end := start + pageSize
		if end > total {
			end = total
		}
		docs = docs[start:end]
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetDocumentHandler returns one document by ID.
func (h *DocumentHandler) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := documentIDFromPath(r.URL.Path)
	doc, err := h.documents.Get(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", id).Msg("Failed to get document")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, doc)
}

// StatusHandler returns the polling view of a document's lifecycle.
func (h *DocumentHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := documentIDFromPath(r.URL.Path)
	status, err := h.documents.Status(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", id).Msg("Failed to get document status")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// PreviewHandler renders the document's stored chunks as HTML.
func (h *DocumentHandler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := documentIDFromPath(r.URL.Path)
	html, err := h.documents.Preview(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", id).Msg("Failed to render document preview")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(html))
}

// ReprocessHandler moves a FAILED document back to PENDING so the ingestion
// pool picks it up again.
func (h *DocumentHandler) ReprocessHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := documentIDFromPath(r.URL.Path)
	if err := h.documents.Reprocess(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("document_id", id).Msg("Failed to reprocess document")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("document_id", id).Msg("Document queued for reprocessing")
	WriteStarted(w, "Document queued for reprocessing")
}

// DeleteDocumentHandler removes the document, its chunks, memberships,
// extracted metadata, and vector points.
func (h *DocumentHandler) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := documentIDFromPath(r.URL.Path)
	if err := h.documents.Delete(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("document_id", id).Msg("Failed to delete document")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("document_id", id).Msg("Document deleted")
	WriteSuccess(w, "Document deleted")
}
