package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-gateway/internal/config"
)

// SMTPSession is one outbound SMTP connection for a mailbox. It dials lazily
// on Verify.
type SMTPSession struct {
	config config.SMTPConfig
	cred   Credential
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	logger *logrus.Logger

	mu      sync.Mutex
	raw     net.Conn
	client  *smtp.Client
	aborted bool
}

// OpenSMTP prepares an SMTP session; no network traffic happens until Verify
func (d *Dialer) OpenSMTP(cred Credential) *SMTPSession {
	return &SMTPSession{
		config: d.smtp,
		cred:   cred,
		dial:   d.dial,
		logger: d.logger,
	}
}

// Verify connects, greets, upgrades to TLS when configured and
// authenticates. A verified session is ready to Send.
func (s *SMTPSession) Verify(ctx context.Context) error {
	if c := s.current(); c != nil {
		return c.Noop()
	}

	addr := s.config.Addr()
	dialCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	raw, err := s.dial(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return classifyDialError(addr, err)
	}

	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		raw.Close() //nolint:errcheck
		return fmt.Errorf("%w: session aborted", ErrTimeout)
	}
	s.raw = raw
	s.mu.Unlock()

	c, err := withTimeout(ctx, s.config.GreetingTimeout, func() { raw.Close() }, func() (*smtp.Client, error) {
		return s.greet(raw)
	})
	if err != nil {
		raw.Close() //nolint:errcheck
		if errors.Is(err, ErrTimeout) {
			return fmt.Errorf("greeting from %s: %w", addr, err)
		}
		return fmt.Errorf("%w: greeting from %s: %w", ErrNetwork, addr, err)
	}
	c.CommandTimeout = s.config.SocketTimeout
	c.SubmissionTimeout = s.config.SocketTimeout

	s.mu.Lock()
	s.client = c
	s.mu.Unlock()

	if s.cred.Secret != "" {
		auth := sasl.NewPlainClient("", s.cred.Address, s.cred.Secret)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthFailure, err)
		}
	}

	return nil
}

// greet builds the client for the configured transport and completes
// EHLO, including the STARTTLS upgrade on plain connections
func (s *SMTPSession) greet(raw net.Conn) (*smtp.Client, error) {
	tlsCfg := tlsConfig(s.config.Host, s.config.AllowInvalidCerts)

	switch {
	case s.config.UseTLS:
		c := smtp.NewClient(tls.Client(raw, tlsCfg))
		if err := c.Hello("localhost"); err != nil {
			return nil, err
		}
		return c, nil
	case s.config.StartTLS:
		c, err := smtp.NewClientStartTLS(raw, tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
		return c, nil
	default:
		c := smtp.NewClient(raw)
		if err := c.Hello("localhost"); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Send transmits raw message bytes on a verified session and returns the
// server's reply to the end of DATA
func (s *SMTPSession) Send(from string, rcpts []string, r io.Reader) (string, error) {
	c := s.current()
	if c == nil {
		return "", errors.New("smtp session not verified")
	}

	if err := c.Mail(from, nil); err != nil {
		return "", fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range rcpts {
		if err := c.Rcpt(to, nil); err != nil {
			return "", fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close() //nolint:errcheck
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	resp, err := w.CloseWithResponse()
	if err != nil {
		return "", fmt.Errorf("failed to close data writer: %w", err)
	}

	return "250 " + resp.StatusText, nil
}

func (s *SMTPSession) current() *smtp.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Close quits politely when possible and always releases the socket
func (s *SMTPSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	// After an abort a command may still own the client, so skip QUIT
	if s.client != nil && !s.aborted {
		_ = s.raw.SetDeadline(time.Now().Add(s.config.GreetingTimeout))
		if qerr := s.client.Quit(); qerr != nil {
			err = s.client.Close()
		}
	}
	s.client = nil
	if s.raw != nil {
		s.raw.Close() //nolint:errcheck
		s.raw = nil
	}
	return err
}

// abort drops the socket without a QUIT; used when a timeout fires while a
// command is still in flight.
func (s *SMTPSession) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aborted = true
	if s.raw != nil {
		s.raw.Close() //nolint:errcheck
	}
}
