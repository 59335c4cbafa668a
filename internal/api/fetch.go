package api

import (
	"context"
	"net/http"

	"github.com/brandon/mail-gateway/internal/email"
	"github.com/brandon/mail-gateway/pkg/types"
)

const (
	defaultFetchLimit  = 10
	defaultRecentLimit = 100
)

type fetchResponse struct {
	Success bool                   `json:"success"`
	Emails  []types.MessageSummary `json:"emails"`
}

// handleFetch returns one page of a folder, newest first
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
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
	limit, err := fields.intValue("limit", defaultFetchLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := fields.intValue("offset", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	folder := fields["folder"]
	if folder == "" {
		folder = email.DefaultFetchFolder
	}

	emails, err := s.gateway.Fetch(r.Context(), cred, folder, email.FetchWindow{Limit: limit, Offset: offset})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fetchResponse{Success: true, Emails: emails})
}

func (s *Server) handleFetchSent(w http.ResponseWriter, r *http.Request) {
	s.handleRecent(w, r, s.gateway.FetchSent)
}

func (s *Server) handleFetchTrash(w http.ResponseWriter, r *http.Request) {
	s.handleRecent(w, r, s.gateway.FetchTrash)
}

// handleRecent serves the most-recent-limit listings; offset is ignored
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request, fetch func(context.Context, email.Credential, int) ([]types.MessageSummary, error)) {
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
	limit, err := fields.intValue("limit", defaultRecentLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	emails, err := fetch(r.Context(), cred, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fetchResponse{Success: true, Emails: emails})
}
