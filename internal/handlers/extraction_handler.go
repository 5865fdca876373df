package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/excerpo/internal/interfaces"
)

// ExtractionHandler serves extraction job submission, polling, cancellation,
// and report download.
type ExtractionHandler struct {
	extraction interfaces.ExtractionService
	logger     arbor.ILogger
}

func NewExtractionHandler(extraction interfaces.ExtractionService, logger arbor.ILogger) *ExtractionHandler {
	return &ExtractionHandler{
		extraction: extraction,
		logger:     logger,
	}
}

// extractionJobIDFromPath extracts the job ID segment from
// /api/extraction/jobs/{id}[/suffix].
func extractionJobIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/api/extraction/jobs/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

type startExtractionRequest struct {
	CollectionID string `json:"collection_id" validate:"required"`
	GroupID      string `json:"group_id" validate:"required"`
	CreatedBy    string `json:"created_by"`
}

// StartJobHandler starts an extraction job over every READY document in the
// collection crossed with the group's configurations.
func (h *ExtractionHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req startExtractionRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	job, err := h.extraction.StartJob(r.Context(), req.CollectionID, req.GroupID, req.CreatedBy)
	if err != nil {
		h.logger.Error().Err(err).
			Str("collection_id", req.CollectionID).
			Str("group_id", req.GroupID).
			Msg("Failed to start extraction job")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("collection_id", req.CollectionID).
		Str("group_id", req.GroupID).
		Int("documents", job.TotalDocuments).
		Msg("Extraction job started")
	WriteJSON(w, http.StatusAccepted, job)
}

// GetJobHandler returns one extraction job with its progress counters.
func (h *ExtractionHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := extractionJobIDFromPath(r.URL.Path)
	job, err := h.extraction.Job(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Msg("Failed to get extraction job")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// ListJobsHandler lists a collection's extraction jobs, newest first.
func (h *ExtractionHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	collectionID := r.URL.Query().Get("collection_id")
	if collectionID == "" {
		WriteError(w, http.StatusBadRequest, "Query parameter collection_id is required")
		return
	}

	page, pageSize := GetPaginationParams(r)
	jobs, err := h.extraction.Jobs(r.Context(), collectionID, &interfaces.ListOptions{
		Limit:    pageSize,
		Offset:   page * pageSize,
		OrderBy:  "created_at",
		OrderDir: "desc",
	})
	if err != nil {
		h.logger.Error().Err(err).Str("collection_id", collectionID).Msg("Failed to list extraction jobs")
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

// StopJobHandler requests cooperative cancellation of a running job. The
// driver notices at its next commit point.
func (h *ExtractionHandler) StopJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := extractionJobIDFromPath(r.URL.Path)
	if err := h.extraction.StopJob(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Msg("Failed to stop extraction job")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	h.logger.Info().Str("job_id", id).Msg("Extraction job stop requested")
	WriteStarted(w, "Stop requested")
}

// ReportHandler renders the job's results as a downloadable PDF.
func (h *ExtractionHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := extractionJobIDFromPath(r.URL.Path)
	pdf, err := h.extraction.Report(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Msg("Failed to render extraction report")
		WriteError(w, StatusForError(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "extraction_report_"+id+".pdf"))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}
