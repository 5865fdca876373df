package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// mockDocumentService implements interfaces.DocumentService for testing
type mockDocumentService struct {
	uploadFunc    func(ctx context.Context, fileName string, data []byte, displayName, entityLabel string) (*models.SourceDocument, error)
	registerFunc  func(ctx context.Context, sourceURI, displayName, entityLabel string) (*models.SourceDocument, error)
	getFunc       func(ctx context.Context, id string) (*models.SourceDocument, error)
	listFunc      func(ctx context.Context, opts *interfaces.ListOptions) ([]*models.SourceDocument, error)
	statusFunc    func(ctx context.Context, id string) (*models.StatusResponse, error)
	reprocessFunc func(ctx context.Context, id string) error
	chunksFunc    func(ctx context.Context, id string) ([]*models.DocumentChunk, error)
	previewFunc   func(ctx context.Context, id string) (string, error)
	deleteFunc    func(ctx context.Context, id string) error
}

func (m *mockDocumentService) Upload(ctx context.Context, fileName string, data []byte, displayName, entityLabel string) (*models.SourceDocument, error) {
	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, fileName, data, displayName, entityLabel)
	}
	return nil, nil
}

func (m *mockDocumentService) Register(ctx context.Context, sourceURI, displayName, entityLabel string) (*models.SourceDocument, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, sourceURI, displayName, entityLabel)
	}
	return nil, nil
}

func (m *mockDocumentService) Get(ctx context.Context, id string) (*models.SourceDocument, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockDocumentService) List(ctx context.Context, opts *interfaces.ListOptions) ([]*models.SourceDocument, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, opts)
	}
	return nil, nil
}

func (m *mockDocumentService) Status(ctx context.Context, id string) (*models.StatusResponse, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockDocumentService) Reprocess(ctx context.Context, id string) error {
	if m.reprocessFunc != nil {
		return m.reprocessFunc(ctx, id)
	}
	return nil
}

func (m *mockDocumentService) Chunks(ctx context.Context, id string) ([]*models.DocumentChunk, error) {
	if m.chunksFunc != nil {
		return m.chunksFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockDocumentService) Preview(ctx context.Context, id string) (string, error) {
	if m.previewFunc != nil {
		return m.previewFunc(ctx, id)
	}
	return "", nil
}

func (m *mockDocumentService) Delete(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

// mockCollectionService implements interfaces.CollectionService for testing
type mockCollectionService struct {
	getFunc         func(ctx context.Context, id string) (*models.Collection, error)
	membershipsFunc func(ctx context.Context, collectionID string) ([]*models.CollectionMembership, error)
}

func (m *mockCollectionService) Create(ctx context.Context, name, description, createdBy string) (*models.Collection, error) {
	return nil, nil
}

func (m *mockCollectionService) Get(ctx context.Context, id string) (*models.Collection, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &models.Collection{ID: id}, nil
}

func (m *mockCollectionService) GetByName(ctx context.Context, name string) (*models.Collection, error) {
	return nil, nil
}

func (m *mockCollectionService) List(ctx context.Context) ([]*models.Collection, error) {
	return nil, nil
}

func (m *mockCollectionService) Delete(ctx context.Context, id string) error {
	return nil
}

func (m *mockCollectionService) AddDocuments(ctx context.Context, collectionID string, documentIDs []string) (int, error) {
	return 0, nil
}

func (m *mockCollectionService) RemoveDocument(ctx context.Context, collectionID, documentID string) error {
	return nil
}

func (m *mockCollectionService) Memberships(ctx context.Context, collectionID string) ([]*models.CollectionMembership, error) {
	if m.membershipsFunc != nil {
		return m.membershipsFunc(ctx, collectionID)
	}
	return nil, nil
}

func (m *mockCollectionService) EnsureDefault(ctx context.Context) (*models.Collection, error) {
	return nil, nil
}

func newTestDocumentHandler(docs *mockDocumentService, cols *mockCollectionService) *DocumentHandler {
	if cols == nil {
		cols = &mockCollectionService{}
	}
	return NewDocumentHandler(docs, cols, arbor.NewLogger())
}

func multipartBody(t *testing.T, fieldName, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, fileName)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestUploadDocumentHandler_Multipart(t *testing.T) {
	var capturedName string
	var capturedData []byte

	docs := &mockDocumentService{
		uploadFunc: func(ctx context.Context, fileName string, data []byte, displayName, entityLabel string) (*models.SourceDocument, error) {
			capturedName = fileName
			capturedData = data
			return &models.SourceDocument{
				ID:          "doc_1",
				DisplayName: fileName,
				Status:      models.DocumentStatusPending,
			}, nil
		},
	}

	handler := newTestDocumentHandler(docs, nil)
	body, contentType := multipartBody(t, "file", "filing.pdf", "%PDF-1.4 test bytes")

	req := httptest.NewRequest("POST", "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.UploadDocumentHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if capturedName != "filing.pdf" {
		t.Errorf("Expected file name 'filing.pdf', got %q", capturedName)
	}
	if string(capturedData) != "%PDF-1.4 test bytes" {
		t.Errorf("Uploaded bytes did not reach the service")
	}

	var doc models.SourceDocument
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if doc.ID != "doc_1" {
		t.Errorf("Expected document ID 'doc_1', got %q", doc.ID)
	}
	if doc.Status != models.DocumentStatusPending {
		t.Errorf("Expected PENDING status, got %q", doc.Status)
	}
}

func TestUploadDocumentHandler_MissingFileField(t *testing.T) {
	handler := newTestDocumentHandler(&mockDocumentService{}, nil)
	body, contentType := multipartBody(t, "attachment", "filing.pdf", "content")

	req := httptest.NewRequest("POST", "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.UploadDocumentHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestUploadDocumentHandler_EmptyFile(t *testing.T) {
	handler := newTestDocumentHandler(&mockDocumentService{}, nil)
	body, contentType := multipartBody(t, "file", "empty.pdf", "")

	req := httptest.NewRequest("POST", "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.UploadDocumentHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty file, got %d", rec.Code)
	}
}

func TestUploadDocumentHandler_RegisterURI(t *testing.T) {
	var capturedURI string
	docs := &mockDocumentService{
		registerFunc: func(ctx context.Context, sourceURI, displayName, entityLabel string) (*models.SourceDocument, error) {
			capturedURI = sourceURI
			return &models.SourceDocument{
				ID:        "doc_2",
				SourceURI: sourceURI,
				Status:    models.DocumentStatusPending,
			}, nil
		},
	}

	handler := newTestDocumentHandler(docs, nil)
	payload := `{"uri":"https://example.com/annual-report.pdf","display_name":"Annual Report"}`

	req := httptest.NewRequest("POST", "/api/documents", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.UploadDocumentHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if capturedURI != "https://example.com/annual-report.pdf" {
		t.Errorf("Expected URI to reach the service, got %q", capturedURI)
	}
}

func TestUploadDocumentHandler_RegisterMissingURI(t *testing.T) {
	handler := newTestDocumentHandler(&mockDocumentService{}, nil)

	req := httptest.NewRequest("POST", "/api/documents", strings.NewReader(`{"display_name":"No URI"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.UploadDocumentHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for missing uri, got %d", rec.Code)
	}
}

func TestUploadDocumentHandler_MethodNotAllowed(t *testing.T) {
	handler := newTestDocumentHandler(&mockDocumentService{}, nil)

	req := httptest.NewRequest("GET", "/api/documents", nil)
	rec := httptest.NewRecorder()

	handler.UploadDocumentHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func TestGetDocumentHandler_NotFound(t *testing.T) {
	docs := &mockDocumentService{
		getFunc: func(ctx context.Context, id string) (*models.SourceDocument, error) {
			return nil, fmt.Errorf("failed to get document %s: %w", id, models.ErrNotFound)
		},
	}

	handler := newTestDocumentHandler(docs, nil)
	req := httptest.NewRequest("GET", "/api/documents/doc_missing", nil)
	rec := httptest.NewRecorder()

	handler.GetDocumentHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	now := time.Now()
	docs := &mockDocumentService{
		statusFunc: func(ctx context.Context, id string) (*models.StatusResponse, error) {
			return &models.StatusResponse{
				DocumentID:        id,
				Status:            models.DocumentStatusReady,
				MetadataExtracted: true,
				UpdatedAt:         now,
			}, nil
		},
	}

	handler := newTestDocumentHandler(docs, nil)
	req := httptest.NewRequest("GET", "/api/documents/doc_9/status", nil)
	rec := httptest.NewRecorder()

	handler.StatusHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var status models.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.DocumentID != "doc_9" {
		t.Errorf("Expected document ID 'doc_9', got %q", status.DocumentID)
	}
	if status.Status != models.DocumentStatusReady {
		t.Errorf("Expected READY, got %q", status.Status)
	}
	if !status.MetadataExtracted {
		t.Error("Expected metadata_extracted true")
	}
}

func TestListDocumentsHandler_InvalidStatus(t *testing.T) {
	handler := newTestDocumentHandler(&mockDocumentService{}, nil)

	req := httptest.NewRequest("GET", "/api/documents?status=SHREDDED", nil)
	rec := httptest.NewRecorder()

	handler.ListDocumentsHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown status, got %d", rec.Code)
	}
}

func TestListDocumentsHandler_PassesPagination(t *testing.T) {
	var capturedOpts *interfaces.ListOptions
	docs := &mockDocumentService{
		listFunc: func(ctx context.Context, opts *interfaces.ListOptions) ([]*models.SourceDocument, error) {
			capturedOpts = opts
			return []*models.SourceDocument{}, nil
		},
	}

	handler := newTestDocumentHandler(docs, nil)
	req := httptest.NewRequest("GET", "/api/documents?status=READY&page=2&pageSize=20", nil)
	rec := httptest.NewRecorder()

	handler.ListDocumentsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if capturedOpts == nil {
		t.Fatal("Expected list options to reach the service")
	}
	if capturedOpts.Status != "READY" {
		t.Errorf("Expected status filter READY, got %q", capturedOpts.Status)
	}
	if capturedOpts.Limit != 20 || capturedOpts.Offset != 40 {
		t.Errorf("Expected limit 20 offset 40, got limit %d offset %d", capturedOpts.Limit, capturedOpts.Offset)
	}
}

func TestListDocumentsHandler_ByCollection(t *testing.T) {
	memberships := []*models.CollectionMembership{
		{CollectionID: "col_1", DocumentID: "doc_a"},
		{CollectionID: "col_1", DocumentID: "doc_b"},
		{CollectionID: "col_1", DocumentID: "doc_gone"},
	}

	docsByID := map[string]*models.SourceDocument{
		"doc_a": {ID: "doc_a", Status: models.DocumentStatusReady},
		"doc_b": {ID: "doc_b", Status: models.DocumentStatusFailed},
	}

	docs := &mockDocumentService{
		getFunc: func(ctx context.Context, id string) (*models.SourceDocument, error) {
			if doc, ok := docsByID[id]; ok {
				return doc, nil
			}
			return nil, models.ErrNotFound
		},
	}
	cols := &mockCollectionService{
		membershipsFunc: func(ctx context.Context, collectionID string) ([]*models.CollectionMembership, error) {
			return memberships, nil
		},
	}

	handler := newTestDocumentHandler(docs, cols)
	req := httptest.NewRequest("GET", "/api/documents?collection_id=col_1&status=READY", nil)
	rec := httptest.NewRecorder()

	handler.ListDocumentsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	// doc_gone is skipped and doc_b filtered out by status.
	if int(response["count"].(float64)) != 1 {
		t.Errorf("Expected count 1, got %v", response["count"])
	}
	results := response["documents"].([]interface{})
	first := results[0].(map[string]interface{})
	if first["id"] != "doc_a" {
		t.Errorf("Expected doc_a, got %v", first["id"])
	}
}

func TestReprocessHandler(t *testing.T) {
	var capturedID string
	docs := &mockDocumentService{
		reprocessFunc: func(ctx context.Context, id string) error {
			capturedID = id
			return nil
		},
	}

	handler := newTestDocumentHandler(docs, nil)
	req := httptest.NewRequest("POST", "/api/documents/doc_5/reprocess", nil)
	rec := httptest.NewRecorder()

	handler.ReprocessHandler(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", rec.Code)
	}
	if capturedID != "doc_5" {
		t.Errorf("Expected doc_5, got %q", capturedID)
	}
}

func TestReprocessHandler_InvalidTransition(t *testing.T) {
	docs := &mockDocumentService{
		reprocessFunc: func(ctx context.Context, id string) error {
			return fmt.Errorf("document is READY: %w", models.ErrInvalidTransition)
		},
	}

	handler := newTestDocumentHandler(docs, nil)
	req := httptest.NewRequest("POST", "/api/documents/doc_5/reprocess", nil)
	rec := httptest.NewRecorder()

	handler.ReprocessHandler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rec.Code)
	}
}

func TestPreviewHandler(t *testing.T) {
	docs := &mockDocumentService{
		previewFunc: func(ctx context.Context, id string) (string, error) {
			return "<h1>Annual Report</h1>", nil
		},
	}

	handler := newTestDocumentHandler(docs, nil)
	req := httptest.NewRequest("GET", "/api/documents/doc_7/preview", nil)
	rec := httptest.NewRecorder()

	handler.PreviewHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected text/html content type, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<h1>Annual Report</h1>") {
		t.Errorf("Expected rendered HTML in body, got %q", rec.Body.String())
	}
}

func TestDocumentIDFromPath(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/api/documents/doc_1", "doc_1"},
		{"/api/documents/doc_1/status", "doc_1"},
		{"/api/documents/doc_1/preview", "doc_1"},
		{"/api/documents/", ""},
	}

	for _, tt := range tests {
		if got := documentIDFromPath(tt.path); got != tt.expected {
			t.Errorf("documentIDFromPath(%q) = %q, expected %q", tt.path, got, tt.expected)
		}
	}
}
