package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
)

// Archiver appends a copy of each sent message to the mailbox's sent folder.
// It is best effort: failures are logged and never returned.
type Archiver struct {
	dialer   *Dialer
	resolver *Resolver
	logger   *logrus.Logger
}

// NewArchiver creates an archiver
func NewArchiver(dialer *Dialer, resolver *Resolver, logger *logrus.Logger) *Archiver {
	return &Archiver{
		dialer:   dialer,
		resolver: resolver,
		logger:   logger,
	}
}

// Archive stores msg in the first sent folder candidate that accepts it and
// returns that folder's name, or "" when archival was abandoned.
func (a *Archiver) Archive(ctx context.Context, cred Credential, msg *OutgoingMessage) string {
	session, err := a.dialer.OpenIMAP(ctx, cred)
	if err != nil {
		a.logger.WithError(err).WithField("mailbox", cred.Address).Warn("Archival skipped: IMAP unavailable")
		return ""
	}
	defer session.Close() //nolint:errcheck

	return a.archiveTo(session, cred.Address, msg)
}

func (a *Archiver) archiveTo(conn IMAPConn, mailbox string, msg *OutgoingMessage) string {
	raw, err := SerializeArchive(msg)
	if err != nil {
		a.logger.WithError(err).WithField("mailbox", mailbox).Warn("Archival skipped: cannot serialize message")
		return ""
	}

	for _, name := range a.resolver.Candidates(FolderSent) {
		log := a.logger.WithFields(logrus.Fields{"mailbox": mailbox, "folder": name})

		folder, err := a.resolver.ResolveNames(conn, []string{name}, false)
		if err == nil {
			err = conn.Append(folder.Name, []string{imap.SeenFlag}, msg.Date, bytes.NewBuffer(raw))
		}
		if errors.Is(err, ErrTimeout) {
			log.WithError(err).Warn("Archival abandoned: IMAP server stopped responding")
			return ""
		}
		if err != nil {
			log.WithError(err).Debug("Sent folder candidate rejected")
			continue
		}

		log.WithField("message_id", msg.MessageID).Info("Archived sent message")
		return folder.Name
	}

	a.logger.WithField("mailbox", mailbox).Warn("Archival abandoned: no sent folder accepted the message")
	return ""
}

// SerializeArchive renders the archived copy of a sent message. Attachments
// become base64 data-URI links appended to the HTML body instead of MIME
// parts, so the copy differs from what the recipient received.
func SerializeArchive(msg *OutgoingMessage) ([]byte, error) {
	h, err := msg.header()
	if err != nil {
		return nil, err
	}
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	body := msg.HTMLBody + attachmentLinks(msg.Attachments)
	if _, err := w.Write([]byte(body)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func attachmentLinks(atts []Attachment) string {
	if len(atts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<br><br><div><strong>Attachments:</strong><ul>")
	for _, att := range atts {
		name := html.EscapeString(att.Filename)
		fmt.Fprintf(&b, `<li><a href="data:%s;base64,%s" download="%s">%s</a></li>`,
			html.EscapeString(attachmentType(att)),
			base64.StdEncoding.EncodeToString(att.Content),
			name, name)
	}
	b.WriteString("</ul></div>")
	return b.String()
}
