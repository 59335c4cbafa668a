package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-gateway/internal/email"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail reports err to the client. Every documented failure is a 400.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := email.ErrorCode(err)

	s.logger.WithError(err).WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"code":       code,
		"request_id": middleware.GetReqID(r.Context()),
	}).Warn("Request failed")

	writeJSON(w, http.StatusBadRequest, errorResponse{
		Success: false,
		Error:   err.Error(),
		Code:    code,
	})
}
