package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-gateway/internal/config"
	"github.com/brandon/mail-gateway/pkg/types"
)

// DefaultFetchFolder is used when a fetch request names no folder
const DefaultFetchFolder = "INBOX"

// SendJournal records the outcome of each send request
type SendJournal interface {
	RecordSend(ctx context.Context, rec *types.SendRecord) error
}

// Gateway is the facade the transport layer calls. Every operation opens its
// own session from the request credential and closes it before returning.
type Gateway struct {
	dialer   *Dialer
	resolver *Resolver
	fetcher  *Fetcher
	sender   *Sender
	journal  SendJournal
	logger   *logrus.Logger
}

// NewGateway wires the gateway components from configuration. journal may be
// nil.
func NewGateway(cfg *config.Config, journal SendJournal, logger *logrus.Logger) *Gateway {
	dialer := NewDialer(cfg.IMAP, cfg.SMTP, logger)
	resolver := NewResolver(cfg.Folders, logger)
	archiver := NewArchiver(dialer, resolver, logger)

	return &Gateway{
		dialer:   dialer,
		resolver: resolver,
		fetcher:  NewFetcher(cfg.DateLayout, cfg.DateLocation, cfg.ParseConcurrency, logger),
		sender:   NewSender(dialer, archiver, cfg.SMTP, logger),
		journal:  journal,
		logger:   logger,
	}
}

// withFolder opens a session, resolves the first accepted candidate and runs
// fn against it. The session is closed on every path.
func (g *Gateway) withFolder(ctx context.Context, cred Credential, names []string, readOnly bool, fn func(conn IMAPConn, folder *OpenedFolder) error) error {
	session, err := g.dialer.OpenIMAP(ctx, cred)
	if err != nil {
		return err
	}
	defer session.Close() //nolint:errcheck

	folder, err := g.resolver.ResolveNames(session, names, readOnly)
	if err != nil {
		return err
	}
	return fn(session, folder)
}

// TestConnection logs in, opens INBOX read-only and returns its message count
func (g *Gateway) TestConnection(ctx context.Context, cred Credential) (uint32, error) {
	var total uint32
	err := g.withFolder(ctx, cred, g.resolver.Candidates(FolderInbox), true, func(_ IMAPConn, folder *OpenedFolder) error {
		total = folder.Total()
		return nil
	})
	if err != nil {
		return 0, err
	}

	g.logger.WithFields(logrus.Fields{
		"mailbox": cred.Address,
		"total":   total,
	}).Info("Connection test succeeded")
	return total, nil
}

// Fetch returns one page of a folder, newest first. A folder name matching a
// logical role uses that role's candidates; anything else is opened as is.
func (g *Gateway) Fetch(ctx context.Context, cred Credential, folder string, w FetchWindow) ([]types.MessageSummary, error) {
	if strings.TrimSpace(folder) == "" {
		folder = DefaultFetchFolder
	}

	names := []string{folder}
	if role, ok := ParseLogicalFolder(folder); ok {
		names = g.resolver.Candidates(role)
	}

	var summaries []types.MessageSummary
	err := g.withFolder(ctx, cred, names, true, func(conn IMAPConn, opened *OpenedFolder) error {
		var err error
		summaries, err = g.fetcher.FetchWindow(ctx, conn, opened, w)
		return err
	})
	return summaries, err
}

// FetchSent returns the newest limit messages of the sent folder
func (g *Gateway) FetchSent(ctx context.Context, cred Credential, limit int) ([]types.MessageSummary, error) {
	return g.fetchRecent(ctx, cred, FolderSent, limit)
}

// FetchTrash returns the newest limit messages of the trash folder
func (g *Gateway) FetchTrash(ctx context.Context, cred Credential, limit int) ([]types.MessageSummary, error) {
	return g.fetchRecent(ctx, cred, FolderTrash, limit)
}

func (g *Gateway) fetchRecent(ctx context.Context, cred Credential, role LogicalFolder, limit int) ([]types.MessageSummary, error) {
	var summaries []types.MessageSummary
	err := g.withFolder(ctx, cred, g.resolver.Candidates(role), true, func(conn IMAPConn, opened *OpenedFolder) error {
		var err error
		summaries, err = g.fetcher.FetchRecent(ctx, conn, opened, limit)
		return err
	})
	return summaries, err
}

// Folders returns the server's folder tree
func (g *Gateway) Folders(ctx context.Context, cred Credential) (map[string]*types.FolderNode, error) {
	session, err := g.dialer.OpenIMAP(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer session.Close() //nolint:errcheck

	infos, err := ListFolders(session)
	if err != nil {
		return nil, err
	}
	return BuildFolderTree(infos), nil
}

// InboxStatus opens INBOX read-only and returns its status, including
// UIDNEXT and UIDVALIDITY
func (g *Gateway) InboxStatus(ctx context.Context, cred Credential) (*imap.MailboxStatus, error) {
	var status *imap.MailboxStatus
	err := g.withFolder(ctx, cred, g.resolver.Candidates(FolderInbox), true, func(_ IMAPConn, folder *OpenedFolder) error {
		if folder.Status == nil {
			return fmt.Errorf("no status for %s", folder.Name)
		}
		status = folder.Status
		return nil
	})
	return status, err
}

// Send transmits msg and journals the outcome
func (g *Gateway) Send(ctx context.Context, cred Credential, msg *OutgoingMessage) (*types.SendResult, error) {
	result, err := g.sender.Send(ctx, cred, msg)

	rec := &types.SendRecord{
		Mailbox:    cred.Address,
		MessageID:  msg.MessageID,
		Recipients: msg.To,
		Subject:    msg.Subject,
	}
	if err != nil {
		rec.ErrorCode = ErrorCode(err)
		rec.Error = err.Error()
		var exhausted *AttemptsExhaustedError
		if errors.As(err, &exhausted) {
			rec.Attempts = exhausted.Attempts
		}
	} else {
		rec.Success = true
		rec.Attempts = result.Attempts
		rec.ArchivedTo = result.ArchivedTo
	}
	g.record(ctx, rec)

	return result, err
}

func (g *Gateway) record(ctx context.Context, rec *types.SendRecord) {
	if g.journal == nil {
		return
	}
	if err := g.journal.RecordSend(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.WithError(err).WithField("mailbox", rec.Mailbox).Warn("Failed to journal send")
	}
}
