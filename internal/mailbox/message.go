package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-message/mail"

	// needed to handle other charsets too
	_ "github.com/emersion/go-message/charset"

	"github.com/firefart/dmarcstore/internal/archive"
	"github.com/firefart/dmarcstore/internal/helper"
)

// Attachment is a report file found in an email.
type Attachment struct {
	Filename string
	Content  []byte
}

// ExtractAttachments walks all parts of the email read from r and returns
// the parts that look like reports: attachments with a known suffix or
// archive magic bytes, and archives sent as inline parts.
func ExtractAttachments(ctx context.Context, r io.Reader, logger *log.Logger) ([]Attachment, error) {
	m, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create reader: %w", err)
	}
	defer m.Close()

	logger.Debug("processing email",
		"date", m.Header.Get("Date"),
		"from", m.Header.Get("From"),
		"subject", m.Header.Get("Subject"))

	var attachments []Attachment
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := m.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("could not get next part: %w", err)
		}

		fallback := fmt.Sprintf("attachment-%d", n)
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read inline body: %w", err)
			}
			// sometimes the attachment is inlined so we check the magic bytes
			if !helper.IsSupportedArchive(b) {
				continue
			}
			filename := ""
			if _, params, err := h.ContentDisposition(); err == nil {
				filename = params["filename"]
			}
			if filename == "" {
				if _, params, err := h.ContentType(); err == nil {
					filename = params["name"]
				}
			}
			logger.Info("found inline attachment", "filename", filename)
			attachments = append(attachments, newAttachment(filename, fallback, b))
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil {
				return nil, fmt.Errorf("could not get attachment filename: %w", err)
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read attachment: %w", err)
			}
			a := newAttachment(filename, fallback, b)
			if archive.DetectFormat(a.Filename) == archive.FormatUnknown && !archive.IsXML(a.Filename) {
				logger.Debug("skipping attachment", "filename", filename)
				continue
			}
			logger.Info("found attachment", "filename", a.Filename)
			attachments = append(attachments, a)
		default:
			logger.Debug("no header type implemented", "header", p.Header)
		}
	}
	return attachments, nil
}

// newAttachment sanitizes filename and appends the archive suffix if the
// name does not carry a known one.
func newAttachment(filename, fallback string, content []byte) Attachment {
	name := helper.SanitizeFilename(filename, fallback)
	if archive.DetectFormat(name) == archive.FormatUnknown && !archive.IsXML(name) {
		name += helper.ArchiveSuffix(content)
	}
	return Attachment{
		Filename: name,
		Content:  content,
	}
}
