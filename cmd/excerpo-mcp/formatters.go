package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// formatDocumentStatus formats a document status as markdown
func formatDocumentStatus(status *models.StatusResponse) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Document %s\n\n", status.DocumentID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", status.Status))
	if status.StatusDetail != "" {
		sb.WriteString(fmt.Sprintf("**Detail:** %s\n", status.StatusDetail))
	}
	sb.WriteString(fmt.Sprintf("**Metadata extracted:** %t\n", status.MetadataExtracted))
	sb.WriteString(fmt.Sprintf("**Updated:** %s\n", status.UpdatedAt.Format(time.RFC3339)))
	return sb.String()
}

// formatCollections formats the collection list as markdown
func formatCollections(collections []*models.Collection) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Collections (%d)\n\n", len(collections)))

	if len(collections) == 0 {
		sb.WriteString("No collections found.\n")
		return sb.String()
	}

	for i, col := range collections {
		sb.WriteString(fmt.Sprintf("### %d. %s\n", i+1, col.Name))
		sb.WriteString(fmt.Sprintf("**ID:** %s\n", col.ID))
		if col.Description != "" {
			sb.WriteString(fmt.Sprintf("**Description:** %s\n", col.Description))
		}
		stats := col.IndexingStats
		sb.WriteString(fmt.Sprintf("**Documents:** %d total, %d indexed, %d failed\n",
			stats.TotalDocuments, stats.IndexedDocuments, stats.FailedDocuments))
		if stats.LastIndexedAt != nil {
			sb.WriteString(fmt.Sprintf("**Last indexed:** %s\n", stats.LastIndexedAt.Format(time.RFC3339)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatExtractionJob formats an extraction job as markdown
func formatExtractionJob(job *models.ExtractionJob) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Extraction Job %s\n\n", job.ID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", job.Status))
	sb.WriteString(fmt.Sprintf("**Collection:** %s\n", job.CollectionID))
	sb.WriteString(fmt.Sprintf("**Group:** %s\n", job.GroupID))
	sb.WriteString(fmt.Sprintf("**Progress:** %d of %d documents (%d failed)\n",
		job.ProcessedDocuments, job.TotalDocuments, job.FailedDocuments))
	if job.ErrorDetails != "" {
		sb.WriteString(fmt.Sprintf("**Errors:** %s\n", job.ErrorDetails))
	}
	sb.WriteString(fmt.Sprintf("**Created:** %s\n", job.CreatedAt.Format(time.RFC3339)))
	if job.StartedAt != nil {
		sb.WriteString(fmt.Sprintf("**Started:** %s\n", job.StartedAt.Format(time.RFC3339)))
	}
	if job.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("**Completed:** %s\n", job.CompletedAt.Format(time.RFC3339)))
	}
	return sb.String()
}

// formatJobStarted formats the start_extraction_job confirmation as markdown
func formatJobStarted(job *models.ExtractionJob) string {
	var sb strings.Builder
	sb.WriteString("## Extraction Job Queued\n\n")
	sb.WriteString(fmt.Sprintf("**Job ID:** %s\n", job.ID))
	sb.WriteString(fmt.Sprintf("**Collection:** %s\n", job.CollectionID))
	sb.WriteString(fmt.Sprintf("**Group:** %s\n", job.GroupID))
	sb.WriteString(fmt.Sprintf("**Documents:** %d\n\n", job.TotalDocuments))
	sb.WriteString("The job runs once the server picks it up. Poll it with get_extraction_job.\n")
	return sb.String()
}

// formatDocumentMetadata formats extracted metadata groups as markdown
func formatDocumentMetadata(docID string, groups []*interfaces.DocumentMetadataGroup) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Extracted Metadata for %s\n\n", docID))

	if len(groups) == 0 {
		sb.WriteString("No extracted metadata found.\n")
		return sb.String()
	}

	for _, group := range groups {
		sb.WriteString(fmt.Sprintf("### %s\n\n", group.GroupName))
		for _, value := range group.Values {
			sb.WriteString(fmt.Sprintf("- **%s:** %s\n", value.MetadataName, value.ExtractedValue))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
