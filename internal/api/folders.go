package api

import (
	"net/http"

	"github.com/brandon/mail-gateway/pkg/types"
)

type foldersResponse struct {
	Success bool                         `json:"success"`
	Folders map[string]*types.FolderNode `json:"folders"`
}

// handleFolders returns the server's folder tree
func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
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

	folders, err := s.gateway.Folders(r.Context(), cred)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, foldersResponse{Success: true, Folders: folders})
}
