package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/excerpo/internal/models"
)

// validate checks request DTOs against their struct tags. Shared across
// handlers; the validator caches struct metadata internally.
var validate = validator.New()

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteStarted writes a standard "started" JSON response for async operations.
func WriteStarted(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": message,
	})
}

// StatusForError maps domain sentinels onto HTTP status codes. Anything
// unmapped is internal.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateName),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrDefaultGroup),
		errors.Is(err, models.ErrJobNotStoppable),
		errors.Is(err, models.ErrLastGroupLink),
		errors.Is(err, models.ErrNoEligibleDocuments):
		return http.StatusConflict
	case errors.Is(err, models.ErrUnknownGroup),
		errors.Is(err, models.ErrUnknownConfig),
		errors.Is(err, models.ErrUnknownLink):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// DecodeAndValidate decodes the request body into dst and checks its
// validation tags. On failure it writes a 400 and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return false
	}
	return true
}

// GetPaginationParams extracts pagination parameters from query string.
// Returns page (0-indexed) and pageSize (default 10, max 100).
func GetPaginationParams(r *http.Request) (page, pageSize int) {
	page = 0
	pageSize = 10

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p >= 0 {
			page = p
		}
	}

	if pageSizeStr := r.URL.Query().Get("pageSize"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}

	return page, pageSize
}
