package email

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-gateway/internal/config"
	"github.com/brandon/mail-gateway/pkg/types"
)

// LogicalFolder is a mailbox role whose real name varies by provider
type LogicalFolder string

const (
	FolderInbox LogicalFolder = "inbox"
	FolderSent  LogicalFolder = "sent"
	FolderTrash LogicalFolder = "trash"
)

// ParseLogicalFolder maps a request folder name onto a role
func ParseLogicalFolder(name string) (LogicalFolder, bool) {
	switch LogicalFolder(strings.ToLower(strings.TrimSpace(name))) {
	case FolderInbox:
		return FolderInbox, true
	case FolderSent:
		return FolderSent, true
	case FolderTrash:
		return FolderTrash, true
	}
	return "", false
}

// OpenedFolder is a mailbox selected on a live session
type OpenedFolder struct {
	Name     string
	ReadOnly bool
	Status   *imap.MailboxStatus
}

// Total returns the number of messages in the folder
func (f *OpenedFolder) Total() uint32 {
	if f == nil || f.Status == nil {
		return 0
	}
	return f.Status.Messages
}

// Resolver opens the first folder candidate the server accepts
type Resolver struct {
	candidates map[LogicalFolder][]string
	logger     *logrus.Logger
}

// NewResolver creates a resolver from the configured candidate lists
func NewResolver(folders config.FolderCandidates, logger *logrus.Logger) *Resolver {
	return &Resolver{
		candidates: map[LogicalFolder][]string{
			FolderInbox: folders.Inbox,
			FolderSent:  folders.Sent,
			FolderTrash: folders.Trash,
		},
		logger: logger,
	}
}

// Candidates returns the ordered real folder names for a role
func (r *Resolver) Candidates(folder LogicalFolder) []string {
	return append([]string(nil), r.candidates[folder]...)
}

// Resolve opens the first candidate of a role that the server accepts
func (r *Resolver) Resolve(conn IMAPConn, folder LogicalFolder, readOnly bool) (*OpenedFolder, error) {
	return r.ResolveNames(conn, r.candidates[folder], readOnly)
}

// ResolveNames tries names in order and stops at the first success
func (r *Resolver) ResolveNames(conn IMAPConn, names []string, readOnly bool) (*OpenedFolder, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrNoFolderFound)
	}

	var lastErr error
	for _, name := range names {
		status, err := conn.Select(name, readOnly)
		if errors.Is(err, ErrTimeout) {
			return nil, err
		}
		if err != nil {
			r.logger.WithError(err).WithField("folder", name).Debug("Folder candidate rejected")
			lastErr = err
			continue
		}
		return &OpenedFolder{Name: name, ReadOnly: readOnly, Status: status}, nil
	}

	return nil, fmt.Errorf("%w: tried %s: %v", ErrNoFolderFound, strings.Join(names, ", "), lastErr)
}

// BuildFolderTree nests LIST results by their hierarchy delimiter
func BuildFolderTree(infos []*imap.MailboxInfo) map[string]*types.FolderNode {
	root := make(map[string]*types.FolderNode)

	for _, info := range infos {
		if info == nil {
			continue
		}

		parts := []string{info.Name}
		if info.Delimiter != "" {
			parts = strings.Split(info.Name, info.Delimiter)
		}

		level := root
		for i, part := range parts {
			node, ok := level[part]
			if !ok {
				node = &types.FolderNode{
					Name:       part,
					Path:       strings.Join(parts[:i+1], info.Delimiter),
					Delimiter:  info.Delimiter,
					Attributes: []string{},
				}
				level[part] = node
			}
			if i == len(parts)-1 {
				node.Attributes = append([]string{}, info.Attributes...)
				break
			}
			if node.Children == nil {
				node.Children = make(map[string]*types.FolderNode)
			}
			level = node.Children
		}
	}

	return root
}
