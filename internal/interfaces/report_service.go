package interfaces

import "github.com/ternarybob/excerpo/internal/models"

// ExtractionReport is the assembled view of one extraction job's results,
// ready for rendering. Configurations hold the metadata names in the group's
// display order; each document row maps those names to extracted values.
type ExtractionReport struct {
	Job            *models.ExtractionJob
	CollectionName string
	GroupName      string
	Configurations []string
	Documents      []ReportDocument
}

// ReportDocument is one row of the report grid.
type ReportDocument struct {
	DisplayName string
	Values      map[string]string
}

// ReportRenderer turns an assembled extraction report into a document.
type ReportRenderer interface {
	RenderExtractionReport(report *ExtractionReport) ([]byte, error)
}
