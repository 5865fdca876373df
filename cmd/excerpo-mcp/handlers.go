package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
)

// handleGetDocumentStatus implements the get_document_status tool
func handleGetDocumentStatus(documentService interfaces.DocumentService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docID, err := request.RequireString("document_id")
		if err != nil || docID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: document_id parameter is required"),
				},
			}, nil
		}

		status, err := documentService.Status(ctx, docID)
		if err != nil {
			logger.Error().Err(err).Str("doc_id", docID).Msg("Status lookup failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Document not found: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatDocumentStatus(status)),
			},
		}, nil
	}
}

// handleListCollections implements the list_collections tool
func handleListCollections(collectionService interfaces.CollectionService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		collections, err := collectionService.List(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("List collections failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("List error: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatCollections(collections)),
			},
		}, nil
	}
}

// handleGetExtractionJob implements the get_extraction_job tool
func handleGetExtractionJob(extractionService interfaces.ExtractionService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: job_id parameter is required"),
				},
			}, nil
		}

		job, err := extractionService.Job(ctx, jobID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("Job lookup failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Job not found: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatExtractionJob(job)),
			},
		}, nil
	}
}

// handleListExtractedMetadata implements the list_extracted_metadata tool
func handleListExtractedMetadata(metadataService interfaces.MetadataService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		collectionID, err := request.RequireString("collection_id")
		if err != nil || collectionID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: collection_id parameter is required"),
				},
			}, nil
		}

		docID, err := request.RequireString("document_id")
		if err != nil || docID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: document_id parameter is required"),
				},
			}, nil
		}

		groups, err := metadataService.DocumentMetadata(ctx, collectionID, docID)
		if err != nil {
			logger.Error().Err(err).Str("doc_id", docID).Msg("Metadata lookup failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Metadata error: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatDocumentMetadata(docID, groups)),
			},
		}, nil
	}
}

// handleStartExtractionJob implements the start_extraction_job tool
func handleStartExtractionJob(extractionService interfaces.ExtractionService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		collectionID, err := request.RequireString("collection_id")
		if err != nil || collectionID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: collection_id parameter is required"),
				},
			}, nil
		}

		groupID, err := request.RequireString("group_id")
		if err != nil || groupID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: group_id parameter is required"),
				},
			}, nil
		}

		job, err := extractionService.StartJob(ctx, collectionID, groupID, "mcp")
		if err != nil {
			logger.Error().Err(err).Str("collection_id", collectionID).Msg("Start extraction failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Start error: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatJobStarted(job)),
			},
		}, nil
	}
}
