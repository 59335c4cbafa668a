package api

import "net/http"

// maxFieldBytes caps request bodies of the non-upload routes
const maxFieldBytes = 1 << 20

type testConnectionResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TotalMessages uint32 `json:"totalMessages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleTestConnection logs in and opens INBOX
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
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

	total, err := s.gateway.TestConnection(r.Context(), cred)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, testConnectionResponse{
		Success:       true,
		Message:       "Connection successful",
		TotalMessages: total,
	})
}
