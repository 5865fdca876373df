// -----------------------------------------------------------------------
// Mailbox Ingest - IMAP attachment poller
// Unseen messages are scanned for PDF attachments and fed to the upload path
// -----------------------------------------------------------------------

package mailingest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// Service polls an IMAP mailbox for unseen messages and uploads their PDF
// attachments as source documents. Messages are marked seen only after every
// attachment uploaded, so a failed message is retried on the next poll.
type Service struct {
	cfg       common.MailConfig
	documents interfaces.DocumentService
	logger    arbor.ILogger
}

var _ interfaces.TaskExecutor = (*Service)(nil)

func NewService(cfg *common.Config, documents interfaces.DocumentService, logger arbor.ILogger) *Service {
	return &Service{
		cfg:       cfg.Mail,
		documents: documents,
		logger:    logger,
	}
}

// Execute handles mailbox_poll tasks from the scheduler.
func (s *Service) Execute(ctx context.Context, task *models.QueueTask) error {
	_, err := s.Poll(ctx)
	return err
}

// Poll runs one mailbox sweep and returns the number of documents ingested.
// The connection is TLS only; filing mailboxes have no business on port 143.
func (s *Service) Poll(ctx context.Context) (int, error) {
	if !s.cfg.Enabled {
		return 0, fmt.Errorf("mailbox ingest is disabled")
	}
	if s.cfg.Server == "" || s.cfg.Username == "" {
		return 0, fmt.Errorf("mailbox ingest is not configured")
	}

	c, err := client.DialTLS(s.cfg.Server, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to %s: %w", s.cfg.Server, err)
	}
	defer c.Logout()

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return 0, fmt.Errorf("mailbox login failed: %w", err)
	}

	folder := s.cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, false); err != nil {
		return 0, fmt.Errorf("failed to select %s: %w", folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqNums, err := c.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(seqNums) == 0 {
		s.logger.Debug().Str("folder", folder).Msg("No unseen messages")
		return 0, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	ingested := 0
	handled := new(imap.SeqSet)
	for msg := range messages {
		if msg == nil {
			continue
		}

		count, err := s.ingestMessage(ctx, msg, section)
		if err != nil {
			// Unseen messages are retried next poll. Attachments uploaded
			// before the failure will repeat then.
			s.logger.Warn().
				Int64("seq", int64(msg.SeqNum)).
				Err(err).
				Msg("Failed to ingest message attachments")
			continue
		}
		ingested += count
		handled.AddNum(msg.SeqNum)
	}
	if err := <-done; err != nil {
		return ingested, fmt.Errorf("failed to fetch messages: %w", err)
	}

	if !handled.Empty() {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.Store(handled, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return ingested, fmt.Errorf("failed to mark messages seen: %w", err)
		}
	}

	s.logger.Info().
		Str("folder", folder).
		Int("messages", len(seqNums)).
		Int("documents", ingested).
		Msg("Mailbox poll complete")

	return ingested, nil
}

func (s *Service) ingestMessage(ctx context.Context, msg *imap.Message, section *imap.BodySectionName) (int, error) {
	r := msg.GetBody(section)
	if r == nil {
		return 0, fmt.Errorf("no body section")
	}

	attachments, err := pdfAttachments(r)
	if err != nil {
		return 0, err
	}

	from := ""
	if msg.Envelope != nil && len(msg.Envelope.From) > 0 {
		from = msg.Envelope.From[0].Address()
	}

	for _, att := range attachments {
		doc, err := s.documents.Upload(ctx, att.FileName, att.Data, "", "")
		if err != nil {
			return 0, fmt.Errorf("failed to upload %s: %w", att.FileName, err)
		}
		s.logger.Info().
			Str("document_id", doc.ID).
			Str("file", att.FileName).
			Str("from", from).
			Msg("Ingested mailbox attachment")
	}
	return len(attachments), nil
}

type attachment struct {
	FileName string
	Data     []byte
}

// pdfAttachments walks the MIME parts and collects every PDF, whether sent
// as a proper attachment or inline. Transfer encoding is undone by the mail
// reader.
func pdfAttachments(r io.Reader) ([]attachment, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	var out []attachment
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}

		var fileName, contentType string
		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			fileName, _ = h.Filename()
			contentType, _, _ = h.ContentType()
		case *mail.InlineHeader:
			// InlineHeader has no Filename helper; read the same params
			// AttachmentHeader.Filename consults.
			_, dispParams, _ := h.ContentDisposition()
			fileName = dispParams["filename"]
			if fileName == "" {
				_, ctParams, _ := h.ContentType()
				fileName = ctParams["name"]
			}
			contentType, _, _ = h.ContentType()
		default:
			continue
		}

		if !isPDF(fileName, contentType) {
			continue
		}

		data, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", fileName, err)
		}
		if fileName == "" {
			fileName = "attachment.pdf"
		}
		out = append(out, attachment{FileName: fileName, Data: data})
	}
	return out, nil
}

func isPDF(fileName, contentType string) bool {
	if strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(contentType), "application/pdf")
}
