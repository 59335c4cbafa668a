package email

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/brandon/mail-gateway/pkg/types"
)

// noContent is the body of a message with neither HTML nor text parts
const noContent = "No content"

// ParsedFields are the normalized fields of one raw message
type ParsedFields struct {
	From        string
	To          string
	Subject     string
	Date        time.Time
	Body        string
	Attachments []types.AttachmentInfo
}

// ParseMessage normalizes a raw RFC 5322 message. A missing Date header is
// replaced by now().
func ParseMessage(raw []byte, now func() time.Time) (*ParsedFields, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrParse)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	parsed := &ParsedFields{
		From:    renderAddresses(env, "From"),
		To:      renderAddresses(env, "To"),
		Subject: env.GetHeader("Subject"),
	}

	switch {
	case env.HTML != "":
		parsed.Body = env.HTML
	case env.Text != "":
		parsed.Body = env.Text
	default:
		parsed.Body = noContent
	}

	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		parsed.Date = date
	} else {
		parsed.Date = now()
	}

	for _, part := range env.Attachments {
		parsed.Attachments = append(parsed.Attachments, types.AttachmentInfo{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        len(part.Content),
		})
	}

	return parsed, nil
}

// renderAddresses renders an address header as display text,
// e.g. `Jane Doe <jane@example.com>, bob@example.com`
func renderAddresses(env *enmime.Envelope, key string) string {
	addrs, err := env.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return env.GetHeader(key)
	}

	rendered := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			rendered = append(rendered, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			rendered = append(rendered, a.Address)
		}
	}
	return strings.Join(rendered, ", ")
}
