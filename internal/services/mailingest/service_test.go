package mailingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
)

// crlf rewrites a fixture to the line endings MIME parsing expects.
func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

const filingMessage = `From: filings@example.com
To: ingest@example.com
Subject: Q1 filing
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="frontier"

--frontier
Content-Type: text/plain

The Q1 filing is attached.
--frontier
Content-Type: application/pdf; name="q1.pdf"
Content-Disposition: attachment; filename="q1.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjcgZmFrZQ==
--frontier
Content-Type: application/vnd.openxmlformats-officedocument.wordprocessingml.document
Content-Disposition: attachment; filename="notes.docx"
Content-Transfer-Encoding: base64

bm90ZXM=
--frontier--
`

const inlineMessage = `From: filings@example.com
To: ingest@example.com
Subject: Inline filing
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: application/pdf
Content-Disposition: inline; filename="inline-filing.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjc=
--b--
`

const textOnlyMessage = `From: someone@example.com
To: ingest@example.com
Subject: No attachments
Content-Type: text/plain

Just text.
`

func TestPDFAttachmentsExtractsAndDecodes(t *testing.T) {
	attachments, err := pdfAttachments(strings.NewReader(crlf(filingMessage)))
	require.NoError(t, err)

	require.Len(t, attachments, 1, "only the PDF attachment is ingested")
	assert.Equal(t, "q1.pdf", attachments[0].FileName)
	assert.Equal(t, []byte("%PDF-1.7 fake"), attachments[0].Data)
}

func TestPDFAttachmentsAcceptsInlinePDF(t *testing.T) {
	attachments, err := pdfAttachments(strings.NewReader(crlf(inlineMessage)))
	require.NoError(t, err)

	require.Len(t, attachments, 1)
	assert.Equal(t, "inline-filing.pdf", attachments[0].FileName)
	assert.Equal(t, []byte("%PDF-1.7"), attachments[0].Data)
}

func TestPDFAttachmentsTextOnly(t *testing.T) {
	attachments, err := pdfAttachments(strings.NewReader(crlf(textOnlyMessage)))
	require.NoError(t, err)
	assert.Empty(t, attachments)
}

func TestIsPDF(t *testing.T) {
	tests := []struct {
		fileName    string
		contentType string
		want        bool
	}{
		{"q1.pdf", "application/octet-stream", true},
		{"Q1.PDF", "", true},
		{"report", "application/pdf", true},
		{"report", "application/pdf; charset=binary", true},
		{"notes.docx", "application/vnd.ms-word", false},
		{"", "text/plain", false},
	}
	for _, tt := range tests {
		if got := isPDF(tt.fileName, tt.contentType); got != tt.want {
			t.Errorf("isPDF(%q, %q) = %v, want %v", tt.fileName, tt.contentType, got, tt.want)
		}
	}
}

func TestPollGuards(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Mail.Enabled = false
	svc := NewService(cfg, nil, arbor.NewLogger())

	_, err := svc.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")

	cfg.Mail.Enabled = true
	cfg.Mail.Server = ""
	svc = NewService(cfg, nil, arbor.NewLogger())

	_, err = svc.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
