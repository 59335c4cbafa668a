package email

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-gateway/internal/config"
	"github.com/brandon/mail-gateway/pkg/types"
)

// SendAttemptResult is the outcome of one attempt of the send loop
type SendAttemptResult struct {
	Attempt   int
	Succeeded bool
	Response  string
	Err       error
}

// Sender transmits messages with bounded retries and archives each success
type Sender struct {
	dialer   *Dialer
	archiver *Archiver
	config   config.SMTPConfig
	logger   *logrus.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSender creates a send orchestrator
func NewSender(dialer *Dialer, archiver *Archiver, cfg config.SMTPConfig, logger *logrus.Logger) *Sender {
	return &Sender{
		dialer:   dialer,
		archiver: archiver,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Send transmits msg from the credential's mailbox. Each attempt verifies the
// SMTP session and then submits the message, each step under its own timeout.
// After the last failed attempt an *AttemptsExhaustedError is returned.
func (s *Sender) Send(ctx context.Context, cred Credential, msg *OutgoingMessage) (*types.SendResult, error) {
	if msg.From == "" {
		msg.From = cred.Address
	}
	if msg.MessageID == "" {
		msg.MessageID = GenerateMessageID(msg.From)
	}
	if msg.Date.IsZero() {
		msg.Date = s.now()
	}

	rcpts, err := msg.Recipients()
	if err != nil {
		return nil, err
	}
	raw, err := msg.Compose()
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"mailbox":    cred.Address,
		"message_id": msg.MessageID,
	})

	maxAttempts := s.config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last SendAttemptResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = s.attempt(ctx, cred, msg.From, rcpts, raw, attempt)
		if last.Succeeded {
			log.WithField("attempt", attempt).Info("Message sent")

			result := &types.SendResult{
				MessageID: msg.MessageID,
				Response:  last.Response,
				Attempts:  attempt,
			}
			result.ArchivedTo = s.archiver.Archive(context.WithoutCancel(ctx), cred, msg)
			return result, nil
		}

		log.WithError(last.Err).WithFields(logrus.Fields{
			"attempt": attempt,
			"code":    ErrorCode(last.Err),
		}).Warn("Send attempt failed")

		if attempt == maxAttempts {
			break
		}

		wait := time.Duration(attempt) * s.config.RetryBackoff
		log.WithField("wait", wait.String()).Info("Retrying send")
		if err := s.sleep(ctx, wait); err != nil {
			return nil, &AttemptsExhaustedError{Attempts: attempt, Last: last.Err}
		}
	}

	return nil, &AttemptsExhaustedError{Attempts: maxAttempts, Last: last.Err}
}

func (s *Sender) attempt(ctx context.Context, cred Credential, from string, rcpts []string, raw []byte, n int) SendAttemptResult {
	session := s.dialer.OpenSMTP(cred)
	defer session.Close() //nolint:errcheck

	err := runWithTimeout(ctx, s.config.VerifyTimeout, session.abort, func() error {
		return session.Verify(ctx)
	})
	if err != nil {
		return SendAttemptResult{Attempt: n, Err: fmt.Errorf("verify: %w", err)}
	}

	resp, err := withTimeout(ctx, s.config.SendTimeout, session.abort, func() (string, error) {
		return session.Send(from, rcpts, bytes.NewReader(raw))
	})
	if err != nil {
		return SendAttemptResult{Attempt: n, Err: fmt.Errorf("send: %w", err)}
	}

	return SendAttemptResult{Attempt: n, Succeeded: true, Response: resp}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
