package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/brandon/mail-gateway/internal/email"
	"github.com/brandon/mail-gateway/pkg/types"
)

// defaultUploadBytes applies when no upload limit is configured
const defaultUploadBytes = 25 << 20

// attachmentFields are the multipart file fields read as attachments
var attachmentFields = []string{"attachments", "attachments[]"}

type sendResponse struct {
	Success    bool   `json:"success"`
	MessageID  string `json:"messageId"`
	Response   string `json:"response"`
	Attempts   int    `json:"attempts"`
	ArchivedTo string `json:"archivedTo,omitempty"`
}

type sendsResponse struct {
	Success bool               `json:"success"`
	Sends   []types.SendRecord `json:"sends"`
}

// handleSend composes a message from a multipart form and sends it
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxUploadBytes
	if limit <= 0 {
		limit = defaultUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	fields, err := readFields(r, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck
	}

	cred, err := fields.credential()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to := strings.TrimSpace(fields["to"])
	if to == "" {
		s.fail(w, r, fmt.Errorf("%w: to is required", errBadRequest))
		return
	}

	attachments, err := readAttachments(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.gateway.Send(r.Context(), cred, &email.OutgoingMessage{
		From:        cred.Address,
		To:          to,
		Subject:     fields["subject"],
		HTMLBody:    fields["body"],
		Attachments: attachments,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{
		Success:    true,
		MessageID:  result.MessageID,
		Response:   result.Response,
		Attempts:   result.Attempts,
		ArchivedTo: result.ArchivedTo,
	})
}

func readAttachments(r *http.Request) ([]email.Attachment, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}

	var attachments []email.Attachment
	for _, key := range attachmentFields {
		for _, fh := range r.MultipartForm.File[key] {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: cannot open attachment %s: %v", errBadRequest, fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: cannot read attachment %s: %v", errBadRequest, fh.Filename, err)
			}

			attachments = append(attachments, email.Attachment{
				Filename:    fh.Filename,
				Content:     data,
				ContentType: fh.Header.Get("Content-Type"),
			})
		}
	}
	return attachments, nil
}

// handleSends lists the journal of a mailbox after the credential has been
// checked against the IMAP server
func (s *Server) handleSends(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(r, maxFieldBytes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cred, err := fields.credential()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := fields.intValue("limit", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if _, err := s.gateway.TestConnection(r.Context(), cred); err != nil {
		s.fail(w, r, err)
		return
	}

	sends, err := s.sends.RecentSends(r.Context(), cred.Address, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendsResponse{Success: true, Sends: sends})
}
