// -----------------------------------------------------------------------
// Chunker Service - Convert documents to markdown and split into chunks
// Tables survive as atomic chunks so extraction prompts see them whole
// -----------------------------------------------------------------------

package chunker

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// Service converts fetched documents to markdown and splits the markdown
// into ordered chunks.
type Service struct {
	pdfExtractor interfaces.PDFExtractor
	chunkSize    int
	chunkOverlap int
	logger       arbor.ILogger
}

// NewService creates a chunker with the configured size and overlap.
func NewService(cfg *common.Config, pdfExtractor interfaces.PDFExtractor, logger arbor.ILogger) *Service {
	return &Service{
		pdfExtractor: pdfExtractor,
		chunkSize:    cfg.Ingestion.ChunkSize,
		chunkOverlap: cfg.Ingestion.ChunkOverlap,
		logger:       logger,
	}
}

// Chunk converts a fetched document to markdown and packs it into chunks.
// An empty result means the document had no extractable content; the caller
// decides whether that fails ingestion.
func (s *Service) Chunk(ctx context.Context, documentID string, blob *interfaces.BlobResult) ([]*models.DocumentChunk, error) {
	markdown, err := s.ToMarkdown(ctx, blob)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}

	segments := segmentMarkdown(markdown)
	packed := packSegments(segments, s.chunkSize, s.chunkOverlap)

	chunks := make([]*models.DocumentChunk, 0, len(packed))
	for i, p := range packed {
		chunks = append(chunks, models.NewDocumentChunk(documentID, i, p.text, p.hasTable))
	}

	s.logger.Debug().
		Str("document_id", documentID).
		Int("markdown_length", len(markdown)).
		Int("chunks", len(chunks)).
		Msg("Document chunked")

	return chunks, nil
}

// ToMarkdown converts the fetched bytes to markdown based on content type.
func (s *Service) ToMarkdown(ctx context.Context, blob *interfaces.BlobResult) (string, error) {
	switch blob.ContentType {
	case "application/pdf":
		text, err := s.pdfExtractor.ExtractText(ctx, blob.Data)
		if err != nil {
			return "", fmt.Errorf("pdf extraction failed: %w", err)
		}
		return normalizePDFText(text), nil

	case "text/html":
		return s.htmlToMarkdown(string(blob.Data))

	default:
		// Markdown and plain text pass through untouched apart from
		// line-ending normalization.
		return strings.ReplaceAll(string(blob.Data), "\r\n", "\n"), nil
	}
}

// htmlToMarkdown selects the main content area and converts it, with the
// table plugin so HTML tables come out as pipe tables.
func (s *Service) htmlToMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, aside").Remove()

	// Tried one at a time: a grouped selector matches in document order,
	// which always lands on body before main.
	content := doc.Find("body")
	for _, selector := range []string{"main", "article", ".content", ".main-content", "#content", "#main"} {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			content = sel
			break
		}
	}

	contentHTML, err := goquery.OuterHtml(content)
	if err != nil {
		return "", fmt.Errorf("failed to serialize content: %w", err)
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.Table())

	markdown, err := converter.ConvertString(contentHTML)
	if err != nil {
		s.logger.Warn().Err(err).Msg("HTML to markdown conversion failed, using fallback")
		return stripHTMLTags(html), nil
	}

	trimmed := strings.TrimSpace(markdown)
	if trimmed == "" && strings.TrimSpace(html) != "" {
		s.logger.Warn().Msg("HTML to markdown conversion produced empty output, applying fallback")
		return stripHTMLTags(html), nil
	}

	return markdown, nil
}

var pageMarkerRe = regexp.MustCompile(`(?m)^--- Page (\d+) ---$`)
var excessNewlinesRe = regexp.MustCompile(`\n{3,}`)

// normalizePDFText turns extractor page markers into markdown headings and
// collapses runs of blank lines.
func normalizePDFText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = pageMarkerRe.ReplaceAllString(text, "## Page $1")
	text = excessNewlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)
var multiSpaceRe = regexp.MustCompile(`\s+`)

// stripHTMLTags is the conversion fallback: drop tags, decode the common
// entities, collapse whitespace.
func stripHTMLTags(htmlStr string) string {
	stripped := htmlTagRe.ReplaceAllString(htmlStr, " ")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&nbsp;", " ",
	)
	decoded := replacer.Replace(stripped)

	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(decoded, " "))
}
