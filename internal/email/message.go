package email

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// OutgoingMessage represents an email to be sent
type OutgoingMessage struct {
	From        string
	To          string
	Subject     string
	HTMLBody    string
	Attachments []Attachment

	// Assigned by the sender when empty
	MessageID string
	Date      time.Time
}

// Attachment represents an email attachment
type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string
}

// Recipients returns the envelope addresses parsed from To
func (m *OutgoingMessage) Recipients() ([]string, error) {
	addrs, err := mail.ParseAddressList(m.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient list %q: %w", m.To, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	rcpts := make([]string, len(addrs))
	for i, a := range addrs {
		rcpts[i] = a.Address
	}
	return rcpts, nil
}

// GenerateMessageID produces <uuid@domain> using the sender's domain
func GenerateMessageID(from string) string {
	domain := "localhost"
	if idx := strings.LastIndex(from, "@"); idx >= 0 && idx < len(from)-1 {
		domain = strings.TrimSuffix(from[idx+1:], ">")
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// header builds the shared RFC 5322 header block
func (m *OutgoingMessage) header() (mail.Header, error) {
	var h mail.Header
	h.SetDate(m.Date)
	h.SetSubject(m.Subject)

	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return h, fmt.Errorf("invalid sender %q: %w", m.From, err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	to, err := mail.ParseAddressList(m.To)
	if err != nil {
		return h, fmt.Errorf("invalid recipient list %q: %w", m.To, err)
	}
	h.SetAddressList("To", to)
	h.Set("Message-Id", m.MessageID)

	return h, nil
}

// Compose renders the message as transmitted: an HTML body, plus true MIME
// attachments when present.
func (m *OutgoingMessage) Compose() ([]byte, error) {
	h, err := m.header()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	if len(m.Attachments) == 0 {
		h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(m.HTMLBody)); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	var ih mail.InlineHeader
	ih.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	iw, err := mw.CreateSingleInline(ih)
	if err != nil {
		return nil, err
	}
	if _, err := iw.Write([]byte(m.HTMLBody)); err != nil {
		return nil, err
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}

	for _, att := range m.Attachments {
		var ah mail.AttachmentHeader
		ah.SetFilename(att.Filename)
		ah.SetContentType(attachmentType(att), nil)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func attachmentType(att Attachment) string {
	if att.ContentType == "" {
		return "application/octet-stream"
	}
	return att.ContentType
}
