package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createGetDocumentStatusTool returns the get_document_status tool definition
func createGetDocumentStatusTool() mcp.Tool {
	return mcp.NewTool("get_document_status",
		mcp.WithDescription("Get the processing status of an ingested document"),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Document ID (format: doc_{uuid})"),
		),
	)
}

// createListCollectionsTool returns the list_collections tool definition
func createListCollectionsTool() mcp.Tool {
	return mcp.NewTool("list_collections",
		mcp.WithDescription("List all document collections with their indexing statistics"),
	)
}

// createGetExtractionJobTool returns the get_extraction_job tool definition
func createGetExtractionJobTool() mcp.Tool {
	return mcp.NewTool("get_extraction_job",
		mcp.WithDescription("Get the status and progress of a metadata extraction job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Extraction job ID (format: exj_{uuid})"),
		),
	)
}

// createListExtractedMetadataTool returns the list_extracted_metadata tool definition
func createListExtractedMetadataTool() mcp.Tool {
	return mcp.NewTool("list_extracted_metadata",
		mcp.WithDescription("List extracted metadata values for a document in a collection, grouped by metadata group"),
		mcp.WithString("collection_id",
			mcp.Required(),
			mcp.Description("Collection ID (format: col_{uuid})"),
		),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Document ID (format: doc_{uuid})"),
		),
	)
}

// createStartExtractionJobTool returns the start_extraction_job tool definition
func createStartExtractionJobTool() mcp.Tool {
	return mcp.NewTool("start_extraction_job",
		mcp.WithDescription("Start a metadata extraction job over every indexed document in a collection; the job is queued and runs on the server"),
		mcp.WithString("collection_id",
			mcp.Required(),
			mcp.Description("Collection ID (format: col_{uuid})"),
		),
		mcp.WithString("group_id",
			mcp.Required(),
			mcp.Description("Metadata group ID whose configurations drive the extraction (format: grp_{uuid})"),
		),
	)
}
