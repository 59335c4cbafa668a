package notify

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/brandon/mail-gateway/internal/email"
	"github.com/brandon/mail-gateway/internal/store"
	"github.com/brandon/mail-gateway/pkg/types"
)

// pollConcurrency bounds how many mailboxes are polled at once
const pollConcurrency = 4

// StatusSource reports the INBOX status of a mailbox
type StatusSource interface {
	InboxStatus(ctx context.Context, cred email.Credential) (*imap.MailboxStatus, error)
}

// MarkStore persists the last observed INBOX state per mailbox
type MarkStore interface {
	Watermark(ctx context.Context, mailbox string) (*store.Watermark, error)
	SaveWatermark(ctx context.Context, mark *store.Watermark) error
	DeleteWatermark(ctx context.Context, mailbox string) error
}

// watch is one registered mailbox. The token authorizes its event stream.
type watch struct {
	cred  email.Credential
	token string
}

// Watcher polls watched mailboxes and publishes new_mail events. Credentials
// live in memory for as long as the mailbox is watched.
type Watcher struct {
	source   StatusSource
	marks    MarkStore
	hub      *Hub
	interval time.Duration
	limiter  *rate.Limiter
	logger   *logrus.Logger

	mu      sync.Mutex
	watched map[string]watch
}

// NewWatcher creates a watcher. pollRate caps polls per second across all
// mailboxes.
func NewWatcher(source StatusSource, marks MarkStore, hub *Hub, interval time.Duration, pollRate float64, logger *logrus.Logger) *Watcher {
	limit := rate.Inf
	if pollRate > 0 {
		limit = rate.Limit(pollRate)
	}
	return &Watcher{
		source:   source,
		marks:    marks,
		hub:      hub,
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		watched:  make(map[string]watch),
	}
}

// Watch polls the mailbox once to check the credential and record a
// baseline, then keeps polling it on every tick. It returns the token that
// authorizes the mailbox's event stream. Watching again with the same secret
// keeps the token; a new secret replaces it.
func (w *Watcher) Watch(ctx context.Context, cred email.Credential) (string, error) {
	if _, err := w.poll(ctx, cred); err != nil {
		return "", err
	}

	key := mailboxKey(cred.Address)

	w.mu.Lock()
	current, ok := w.watched[key]
	token := current.token
	if !ok || !sameSecret(current.cred.Secret, cred.Secret) {
		token = uuid.NewString()
	}
	w.watched[key] = watch{cred: cred, token: token}
	w.mu.Unlock()

	w.logger.WithField("mailbox", cred.Address).Info("Watching mailbox")
	return token, nil
}

// Authorized reports whether token is the event token of a watched mailbox
func (w *Watcher) Authorized(mailbox, token string) bool {
	if token == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	current, ok := w.watched[mailboxKey(mailbox)]
	return ok && sameSecret(current.token, token)
}

// Unwatch stops polling a mailbox, revokes its event token and forgets its
// watermark. It reports whether the mailbox was watched with the same secret.
func (w *Watcher) Unwatch(ctx context.Context, cred email.Credential) (bool, error) {
	key := mailboxKey(cred.Address)

	w.mu.Lock()
	current, ok := w.watched[key]
	if ok && !sameSecret(current.cred.Secret, cred.Secret) {
		ok = false
	}
	if ok {
		delete(w.watched, key)
	}
	w.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := w.marks.DeleteWatermark(ctx, key); err != nil {
		return true, err
	}

	w.logger.WithField("mailbox", cred.Address).Info("Stopped watching mailbox")
	return true, nil
}

func sameSecret(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Watched returns the watched mailboxes in sorted order
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.watched))
	for k := range w.watched {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Run polls every watched mailbox each interval until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.WithField("interval", w.interval.String()).Info("Mail watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Mail watcher stopped")
			return nil
		case <-ticker.C:
			w.PollAll(ctx)
		}
	}
}

// PollAll polls every watched mailbox once. Failures are logged per mailbox.
func (w *Watcher) PollAll(ctx context.Context) {
	w.mu.Lock()
	creds := make([]email.Credential, 0, len(w.watched))
	for _, entry := range w.watched {
		creds = append(creds, entry.cred)
	}
	w.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)

	for _, cred := range creds {
		cred := cred
		g.Go(func() error {
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
			if _, err := w.poll(ctx, cred); err != nil {
				w.logger.WithError(err).WithField("mailbox", cred.Address).Warn("Mailbox poll failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// poll compares the INBOX status with the stored watermark, saves the new
// watermark and publishes an event when UIDNEXT moved forward. A changed
// UIDVALIDITY resets the baseline without an event.
func (w *Watcher) poll(ctx context.Context, cred email.Credential) (uint32, error) {
	key := mailboxKey(cred.Address)

	status, err := w.source.InboxStatus(ctx, cred)
	if err != nil {
		return 0, err
	}

	mark, err := w.marks.Watermark(ctx, key)
	if err != nil {
		return 0, err
	}

	var fresh uint32
	switch {
	case mark == nil:
	case mark.UIDValidity != status.UidValidity:
		w.logger.WithField("mailbox", cred.Address).Info("UIDVALIDITY changed, resetting watermark")
	case status.UidNext > mark.UIDNext:
		fresh = status.UidNext - mark.UIDNext
	case status.UidNext == 0 && status.Messages > mark.Messages:
		// Server did not report UIDNEXT
		fresh = status.Messages - mark.Messages
	}

	err = w.marks.SaveWatermark(ctx, &store.Watermark{
		Mailbox:     key,
		UIDValidity: status.UidValidity,
		UIDNext:     status.UidNext,
		Messages:    status.Messages,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save watermark: %w", err)
	}

	if fresh > 0 {
		delivered := w.hub.Publish(types.MailEvent{
			Type:    EventNewMail,
			Mailbox: key,
			Count:   fresh,
		})
		w.logger.WithFields(logrus.Fields{
			"mailbox":     cred.Address,
			"count":       fresh,
			"subscribers": delivered,
		}).Info("New mail detected")
	}
	return fresh, nil
}
