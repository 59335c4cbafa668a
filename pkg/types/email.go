package types

import "time"

// MessageSummary is one normalized message in a fetch response
type MessageSummary struct {
	SequenceNumber uint32           `json:"seqno"`
	UID            uint32           `json:"uid"`
	Flags          []string         `json:"flags"`
	From           string           `json:"from"`
	To             string           `json:"to"`
	Subject        string           `json:"subject"`
	Date           string           `json:"date"`
	Body           string           `json:"body"`
	Attachments    []AttachmentInfo `json:"attachments,omitempty"`
}

// AttachmentInfo describes an attachment without its content
type AttachmentInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// FolderNode is one mailbox in the server folder tree
type FolderNode struct {
	Name       string                 `json:"name"`
	Path       string                 `json:"path"`
	Delimiter  string                 `json:"delimiter"`
	Attributes []string               `json:"attribs"`
	Children   map[string]*FolderNode `json:"children,omitempty"`
}

// SendResult is returned once a message has left the outbound transport
type SendResult struct {
	MessageID string `json:"messageId"`
	Response  string `json:"response"`
	Attempts  int    `json:"attempts"`
	// ArchivedTo is the sent folder that accepted the archived copy, empty
	// when archival was abandoned.
	ArchivedTo string `json:"archivedTo,omitempty"`
}

// SendRecord is one journal entry for a send request
type SendRecord struct {
	ID         int64     `json:"id"`
	Mailbox    string    `json:"mailbox"`
	MessageID  string    `json:"messageId"`
	Recipients string    `json:"to"`
	Subject    string    `json:"subject"`
	Attempts   int       `json:"attempts"`
	Success    bool      `json:"success"`
	ErrorCode  string    `json:"code,omitempty"`
	Error      string    `json:"error,omitempty"`
	ArchivedTo string    `json:"archivedTo,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MailEvent is pushed to subscribers of a mailbox
type MailEvent struct {
	Type    string `json:"type"`
	Mailbox string `json:"-"`
	Count   uint32 `json:"count,omitempty"`
}
