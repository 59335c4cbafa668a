package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// IMAPConn is the IMAP command surface used by the gateway. *client.Client
// from go-imap satisfies it.
type IMAPConn interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Append(mbox string, flags []string, date time.Time, msg imap.Literal) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Noop() error
	Logout() error
}

// IMAPSession is one authenticated IMAP connection. Commands are serialized,
// and a NOOP is sent every keepalive interval while the session is idle.
type IMAPSession struct {
	conn    IMAPConn
	raw     net.Conn
	mailbox string
	logger  *logrus.Logger

	mu        sync.Mutex
	aborted   bool
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	timeouts  sessionTimeouts
}

// OpenIMAP connects, reads the greeting and logs in. One connect deadline
// covers dial, TLS handshake and greeting; the auth timeout bounds LOGIN.
func (d *Dialer) OpenIMAP(ctx context.Context, cred Credential) (*IMAPSession, error) {
	cfg := d.imap
	addr := cfg.Addr()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	raw, err := d.dial(connectCtx, "tcp", addr)
	if err != nil {
		if connectCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w after %s", ErrTimeout, cfg.ConnectTimeout)
		}
		return nil, classifyDialError(addr, err)
	}

	conn := raw
	if cfg.UseTLS {
		conn = tls.Client(raw, tlsConfig(cfg.Host, cfg.AllowInvalidCerts))
	}

	remaining := cfg.ConnectTimeout
	if deadline, ok := connectCtx.Deadline(); ok {
		remaining = time.Until(deadline)
	}
	c, err := withTimeout(connectCtx, remaining, func() { raw.Close() }, func() (*client.Client, error) {
		return client.New(conn)
	})
	if err != nil {
		raw.Close()
		return nil, classifyDialError(addr, err)
	}

	err = runWithTimeout(ctx, cfg.AuthTimeout, func() { raw.Close() }, func() error {
		return c.Login(cred.Address, cred.Secret)
	})
	if err != nil {
		raw.Close()
		d.logger.WithError(err).WithField("mailbox", cred.Address).Warn("IMAP login failed")
		var netErr net.Error
		switch {
		case errors.Is(err, ErrTimeout):
			return nil, fmt.Errorf("%w: login: %w", ErrConnectTimeout, err)
		case errors.As(err, &netErr):
			return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrAuthFailure, err)
		}
	}

	d.logger.WithField("mailbox", cred.Address).Debug("Connected to IMAP server")
	return newIMAPSession(c, raw, cred.Address, sessionTimeouts{
		keepalive: cfg.KeepaliveInterval,
		command:   cfg.CommandTimeout,
		logout:    cfg.AuthTimeout,
	}, d.logger), nil
}

// sessionTimeouts configures an IMAPSession; a zero value disables the
// corresponding timer
type sessionTimeouts struct {
	keepalive time.Duration
	command   time.Duration
	logout    time.Duration
}

func newIMAPSession(conn IMAPConn, raw net.Conn, mailbox string, timeouts sessionTimeouts, logger *logrus.Logger) *IMAPSession {
	s := &IMAPSession{
		conn:     conn,
		raw:      raw,
		mailbox:  mailbox,
		logger:   logger,
		stop:     make(chan struct{}),
		timeouts: timeouts,
	}
	if timeouts.keepalive > 0 {
		s.wg.Add(1)
		go s.keepalive(timeouts.keepalive)
	}
	return s
}

func (s *IMAPSession) keepalive(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// A running command already keeps the connection busy
			if !s.mu.TryLock() {
				continue
			}
			err := s.exec("NOOP", s.conn.Noop)
			s.mu.Unlock()
			if err != nil {
				s.logger.WithError(err).WithField("mailbox", s.mailbox).Debug("IMAP keepalive failed")
			}
		}
	}
}

// exec runs one command under the command timeout. On expiry the socket is
// closed and the session is unusable. The caller holds s.mu.
func (s *IMAPSession) exec(name string, op func() error) error {
	if s.aborted {
		return fmt.Errorf("%w: %s: session aborted", ErrTimeout, name)
	}
	if s.timeouts.command <= 0 {
		return op()
	}

	err := runWithTimeout(context.Background(), s.timeouts.command, s.abort, op)
	if errors.Is(err, ErrTimeout) {
		s.logger.WithField("mailbox", s.mailbox).WithField("command", name).Warn("IMAP command timed out")
		return fmt.Errorf("imap %s: %w", name, err)
	}
	return err
}

// abort drops the socket under a command that is still in flight
func (s *IMAPSession) abort() {
	s.aborted = true
	if s.raw != nil {
		s.raw.Close() //nolint:errcheck
	}
}

// Close logs out and releases the socket. It is safe to call more than once.
func (s *IMAPSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()

		// An aborted connection cannot carry a LOGOUT
		if !s.aborted {
			if s.raw != nil && s.timeouts.logout > 0 {
				_ = s.raw.SetDeadline(time.Now().Add(s.timeouts.logout))
			}
			err = s.conn.Logout()
		}
		if s.raw != nil {
			s.raw.Close() //nolint:errcheck
		}
	})
	return err
}

// Select opens a mailbox
func (s *IMAPSession) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status *imap.MailboxStatus
	err := s.exec("SELECT", func() error {
		var err error
		status, err = s.conn.Select(name, readOnly)
		return err
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Fetch fetches messages; ch is closed by the underlying client when done,
// including after a timeout
func (s *IMAPSession) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec("FETCH", func() error {
		return s.conn.Fetch(seqset, items, ch)
	})
}

// Append stores a message in a mailbox
func (s *IMAPSession) Append(mbox string, flags []string, date time.Time, msg imap.Literal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec("APPEND", func() error {
		return s.conn.Append(mbox, flags, date, msg)
	})
}

// List lists mailboxes
func (s *IMAPSession) List(ref, name string, ch chan *imap.MailboxInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec("LIST", func() error {
		return s.conn.List(ref, name, ch)
	})
}

// Noop pings the server
func (s *IMAPSession) Noop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec("NOOP", s.conn.Noop)
}

// Logout closes the session
func (s *IMAPSession) Logout() error {
	return s.Close()
}

// ListFolders lists every mailbox visible to the session
func ListFolders(conn IMAPConn) ([]*imap.MailboxInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- conn.List("", "*", mailboxes)
	}()

	var folders []*imap.MailboxInfo
	for m := range mailboxes {
		folders = append(folders, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return folders, nil
}
