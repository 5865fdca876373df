package interfaces

import "context"

// PDFExtractor pulls plain text out of PDF bytes.
type PDFExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
	PageCount(data []byte) (int, error)
}
