package notify

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-gateway/pkg/types"
)

// EventNewMail is published when new INBOX mail is detected
const EventNewMail = "new_mail"

// Subscription receives the events of one mailbox
type Subscription struct {
	mailbox string
	events  chan types.MailEvent
}

// Events is closed when the subscription ends
func (s *Subscription) Events() <-chan types.MailEvent {
	return s.events
}

// Hub fans mailbox events out to subscribers. A subscriber whose buffer is
// full misses the event rather than blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *logrus.Logger
}

// NewHub creates a hub with the given per-subscriber buffer
func NewHub(buffer int, logger *logrus.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

func mailboxKey(mailbox string) string {
	return strings.ToLower(strings.TrimSpace(mailbox))
}

// Subscribe registers a subscriber for a mailbox
func (h *Hub) Subscribe(mailbox string) *Subscription {
	sub := &Subscription{
		mailbox: mailboxKey(mailbox),
		events:  make(chan types.MailEvent, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[sub.mailbox] == nil {
		h.subs[sub.mailbox] = make(map[*Subscription]struct{})
	}
	h.subs[sub.mailbox][sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. It is safe to
// call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.mailbox]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.events)
	if len(set) == 0 {
		delete(h.subs, sub.mailbox)
	}
}

// Publish delivers ev to every subscriber of ev.Mailbox and returns how many
// received it
func (h *Hub) Publish(ev types.MailEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[mailboxKey(ev.Mailbox)] {
		select {
		case sub.events <- ev:
			delivered++
		default:
			h.logger.WithField("mailbox", ev.Mailbox).Debug("Subscriber buffer full, event dropped")
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers of a mailbox
func (h *Hub) Subscribers(mailbox string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[mailboxKey(mailbox)])
}

// Close ends every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, set := range h.subs {
		for sub := range set {
			close(sub.events)
		}
		delete(h.subs, key)
	}
}
