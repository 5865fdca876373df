package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket event/log stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// API routes - Documents
	mux.HandleFunc("/api/documents", s.handleDocumentsRoute)  // GET (list), POST (upload)
	mux.HandleFunc("/api/documents/", s.handleDocumentRoutes) // /{id}, /{id}/status, /{id}/preview, /{id}/reprocess

	// API routes - Collections
	mux.HandleFunc("/api/collections", s.handleCollectionsRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/collections/", s.handleCollectionRoutes) // /{id}, /{id}/documents, /{id}/index

	// API routes - Indexing jobs
	mux.HandleFunc("/api/jobs/indexing", s.app.CollectionHandler.ListIndexingJobsHandler)
	mux.HandleFunc("/api/jobs/indexing/", s.app.CollectionHandler.GetIndexingJobHandler)

	// API routes - Metadata groups and configurations
	mux.HandleFunc("/api/groups", s.handleGroupsRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/groups/", s.handleGroupRoutes) // /{id}, /{id}/clone, /{id}/reorder, /{id}/configurations
	mux.HandleFunc("/api/configurations", s.handleConfigurationsRoute)
	mux.HandleFunc("/api/configurations/", s.handleConfigurationRoutes)

	// API routes - Extraction jobs and extracted values
	mux.HandleFunc("/api/extraction/jobs", s.handleExtractionJobsRoute)
	mux.HandleFunc("/api/extraction/jobs/", s.handleExtractionJobRoutes) // /{id}, /{id}/stop, /{id}/report
	mux.HandleFunc("/api/metadata", s.handleMetadataRoute)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

func (s *Server) handleDocumentsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.DocumentHandler.ListDocumentsHandler(w, r)
	case http.MethodPost:
		s.app.DocumentHandler.UploadDocumentHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDocumentRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/status"):
		s.app.DocumentHandler.StatusHandler(w, r)
	case strings.HasSuffix(path, "/preview"):
		s.app.DocumentHandler.PreviewHandler(w, r)
	case strings.HasSuffix(path, "/reprocess"):
		s.app.DocumentHandler.ReprocessHandler(w, r)
	case r.Method == http.MethodDelete:
		s.app.DocumentHandler.DeleteDocumentHandler(w, r)
	default:
		s.app.DocumentHandler.GetDocumentHandler(w, r)
	}
}

func (s *Server) handleCollectionsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.CollectionHandler.ListCollectionsHandler(w, r)
	case http.MethodPost:
		s.app.CollectionHandler.CreateCollectionHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCollectionRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/index"):
		s.app.CollectionHandler.StartIndexingHandler(w, r)
	case strings.HasSuffix(path, "/documents"):
		s.app.CollectionHandler.AddDocumentsHandler(w, r)
	case strings.Contains(path, "/documents/"):
		s.app.CollectionHandler.RemoveDocumentHandler(w, r)
	case r.Method == http.MethodDelete:
		s.app.CollectionHandler.DeleteCollectionHandler(w, r)
	default:
		s.app.CollectionHandler.GetCollectionHandler(w, r)
	}
}

func (s *Server) handleGroupsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.MetadataHandler.ListGroupsHandler(w, r)
	case http.MethodPost:
		s.app.MetadataHandler.CreateGroupHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGroupRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/clone"):
		s.app.MetadataHandler.CloneGroupHandler(w, r)
	case strings.HasSuffix(path, "/reorder"):
		s.app.MetadataHandler.ReorderHandler(w, r)
	case strings.HasSuffix(path, "/configurations"):
		s.app.MetadataHandler.LinkConfigurationHandler(w, r)
	case strings.Contains(path, "/configurations/"):
		s.app.MetadataHandler.UnlinkConfigurationHandler(w, r)
	default:
		switch r.Method {
		case http.MethodGet:
			s.app.MetadataHandler.GetGroupHandler(w, r)
		case http.MethodPut:
			s.app.MetadataHandler.UpdateGroupHandler(w, r)
		case http.MethodDelete:
			s.app.MetadataHandler.DeleteGroupHandler(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (s *Server) handleConfigurationsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.MetadataHandler.ListConfigurationsHandler(w, r)
	case http.MethodPost:
		s.app.MetadataHandler.CreateConfigurationHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleConfigurationRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.MetadataHandler.GetConfigurationHandler(w, r)
	case http.MethodPut:
		s.app.MetadataHandler.UpdateConfigurationHandler(w, r)
	case http.MethodDelete:
		s.app.MetadataHandler.DeleteConfigurationHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleExtractionJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.ExtractionHandler.ListJobsHandler(w, r)
	case http.MethodPost:
		s.app.ExtractionHandler.StartJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleExtractionJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/stop"):
		s.app.ExtractionHandler.StopJobHandler(w, r)
	case strings.HasSuffix(path, "/report"):
		s.app.ExtractionHandler.ReportHandler(w, r)
	default:
		s.app.ExtractionHandler.GetJobHandler(w, r)
	}
}

func (s *Server) handleMetadataRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.MetadataHandler.ListExtractedHandler(w, r)
	case http.MethodDelete:
		s.app.MetadataHandler.DeleteDocumentMetadataHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
