// -----------------------------------------------------------------------
// PDF Extractor Service - Extract text content from PDF documents
// Uses pdfcpu for Go-native PDF processing
// -----------------------------------------------------------------------

package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
)

// Extractor implements the PDFExtractor interface using pdfcpu
type Extractor struct {
	logger  arbor.ILogger
	tempDir string
}

// Compile-time interface assertion
var _ interfaces.PDFExtractor = (*Extractor)(nil)

// NewExtractor creates a new PDF extractor service
func NewExtractor(logger arbor.ILogger) *Extractor {
	tempDir := filepath.Join(os.TempDir(), "excerpo-pdf")
	os.MkdirAll(tempDir, 0755)

	return &Extractor{
		logger:  logger,
		tempDir: tempDir,
	}
}

// PageCount returns the number of pages without extracting text.
func (e *Extractor) PageCount(data []byte) (int, error) {
	tempFile, cleanup, err := e.writeTemp(data)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF context: %w", err)
	}

	return pdfCtx.PageCount, nil
}

// ExtractText extracts all text content from PDF bytes, pages concatenated
// in order with page markers between them.
func (e *Extractor) ExtractText(ctx context.Context, data []byte) (string, error) {
	tempFile, cleanup, err := e.writeTemp(data)
	if err != nil {
		return "", err
	}
	defer cleanup()

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF context: %w", err)
	}
	pageCount := pdfCtx.PageCount

	// pdfcpu extracts per-page content into files, so work in a scratch dir.
	outDir, err := os.MkdirTemp(e.tempDir, "pages_")
	if err != nil {
		return "", fmt.Errorf("failed to create extraction dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		} else if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	// Reassemble in page order regardless of directory listing order.
	var fullText strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text, ok := pageTexts[pageNum]
		if !ok || text == "" {
			continue
		}
		if fullText.Len() > 0 {
			fullText.WriteString(fmt.Sprintf("\n\n--- Page %d ---\n\n", pageNum))
		}
		fullText.WriteString(text)
	}

	e.logger.Debug().
		Int("page_count", pageCount).
		Int("text_length", fullText.Len()).
		Msg("Extracted PDF text")

	return fullText.String(), nil
}

// writeTemp writes PDF bytes to a unique temp file. Unique names matter
// because several ingestion workers extract concurrently.
func (e *Extractor) writeTemp(data []byte) (string, func(), error) {
	f, err := os.CreateTemp(e.tempDir, "extract_*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp PDF file: %w", err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", nil, fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", nil, fmt.Errorf("failed to close temp PDF file: %w", err)
	}

	return name, func() { os.Remove(name) }, nil
}
