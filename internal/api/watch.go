package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/brandon/mail-gateway/internal/email"
)

type watchResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

type unwatchResponse struct {
	Success bool `json:"success"`
	Removed bool `json:"removed"`
}

// handleWatch registers a mailbox for new-mail detection and returns the
// token its event stream requires
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
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

	token, err := s.watcher.Watch(r.Context(), cred)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, watchResponse{
		Success: true,
		Message: "Watching " + cred.Address,
		Token:   token,
	})
}

// handleUnwatch stops watching a mailbox. The secret must match the one the
// mailbox was registered with.
func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
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

	removed, err := s.watcher.Unwatch(r.Context(), cred)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unwatchResponse{Success: true, Removed: removed})
}

// handleEvents streams new-mail events for a watched mailbox as Server-Sent
// Events. The token is the one /watch returned.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mailbox := strings.TrimSpace(query.Get("email"))
	token := strings.TrimSpace(query.Get("token"))
	if mailbox == "" || token == "" {
		s.fail(w, r, fmt.Errorf("%w: email and token are required", errBadRequest))
		return
	}
	if !s.watcher.Authorized(mailbox, token) {
		s.fail(w, r, fmt.Errorf("%w: unknown event token", email.ErrAuthFailure))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.Subscribe(mailbox)
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.WithError(err).Error("Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
