package notify

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-gateway/internal/email"
	"github.com/brandon/mail-gateway/internal/store"
	"github.com/brandon/mail-gateway/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeSource struct {
	mu     sync.Mutex
	status map[string]*imap.MailboxStatus
	err    error
	calls  int
}

func (f *fakeSource) InboxStatus(_ context.Context, cred email.Credential) (*imap.MailboxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	st, ok := f.status[cred.Address]
	if !ok {
		return nil, errors.New("authentication failed")
	}
	cp := *st
	return &cp, nil
}

func (f *fakeSource) set(addr string, validity, next, messages uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[addr] = &imap.MailboxStatus{Name: "INBOX", UidValidity: validity, UidNext: next, Messages: messages}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "gateway.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewStore(db, testLogger())
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeSource, *Hub, *store.Store) {
	src := &fakeSource{status: make(map[string]*imap.MailboxStatus)}
	hub := NewHub(4, testLogger())
	st := newTestStore(t)
	return NewWatcher(src, st, hub, time.Hour, 0, testLogger()), src, hub, st
}

func receive(t *testing.T, sub *Subscription) types.MailEvent {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return types.MailEvent{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHub_PublishToMailboxSubscribers(t *testing.T) {
	hub := NewHub(1, testLogger())

	a1 := hub.Subscribe("a@example.com")
	a2 := hub.Subscribe("A@Example.com ")
	b := hub.Subscribe("b@example.com")
	assert.Equal(t, 2, hub.Subscribers("a@example.com"))

	n := hub.Publish(types.MailEvent{Type: EventNewMail, Mailbox: "a@example.com", Count: 1})
	assert.Equal(t, 2, n)
	assert.Equal(t, EventNewMail, receive(t, a1).Type)
	assert.Equal(t, EventNewMail, receive(t, a2).Type)
	assertNoEvent(t, b)
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub(1, testLogger())
	sub := hub.Subscribe("a@example.com")

	assert.Equal(t, 1, hub.Publish(types.MailEvent{Type: EventNewMail, Mailbox: "a@example.com"}))
	assert.Equal(t, 0, hub.Publish(types.MailEvent{Type: EventNewMail, Mailbox: "a@example.com"}))
	receive(t, sub)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(1, testLogger())
	sub := hub.Subscribe("a@example.com")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("a@example.com"))
	assert.Equal(t, 0, hub.Publish(types.MailEvent{Mailbox: "a@example.com"}))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(1, testLogger())
	sub := hub.Subscribe("a@example.com")

	hub.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	// Unsubscribe after Close must not double-close
	hub.Unsubscribe(sub)
}

func TestWatcher_DetectsNewMail(t *testing.T) {
	w, src, hub, st := newTestWatcher(t)
	ctx := context.Background()
	src.set("a@example.com", 9, 11, 10)

	sub := hub.Subscribe("a@example.com")

	_, err := w.Watch(ctx, email.Credential{Address: "a@example.com", Secret: "pw"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, w.Watched())
	// Baseline only
	assertNoEvent(t, sub)

	mark, err := st.Watermark(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, mark)
	assert.Equal(t, uint32(11), mark.UIDNext)

	// Unchanged mailbox
	w.PollAll(ctx)
	assertNoEvent(t, sub)

	src.set("a@example.com", 9, 14, 13)
	w.PollAll(ctx)

	ev := receive(t, sub)
	assert.Equal(t, EventNewMail, ev.Type)
	assert.Equal(t, uint32(3), ev.Count)

	mark, err = st.Watermark(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(14), mark.UIDNext)
}

func TestWatcher_UIDValidityResetsBaseline(t *testing.T) {
	w, src, hub, st := newTestWatcher(t)
	ctx := context.Background()
	src.set("a@example.com", 1, 50, 49)
	sub := hub.Subscribe("a@example.com")

	_, err := w.Watch(ctx, email.Credential{Address: "a@example.com"})
	require.NoError(t, err)

	src.set("a@example.com", 2, 60, 5)
	w.PollAll(ctx)
	assertNoEvent(t, sub)

	mark, err := st.Watermark(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), mark.UIDValidity)
	assert.Equal(t, uint32(60), mark.UIDNext)
}

func TestWatcher_MessageCountFallback(t *testing.T) {
	w, src, hub, _ := newTestWatcher(t)
	ctx := context.Background()
	src.set("a@example.com", 1, 0, 3)
	sub := hub.Subscribe("a@example.com")

	_, err := w.Watch(ctx, email.Credential{Address: "a@example.com"})
	require.NoError(t, err)

	src.set("a@example.com", 1, 0, 5)
	w.PollAll(ctx)
	assert.Equal(t, uint32(2), receive(t, sub).Count)
}

func TestWatcher_ExistingWatermarkReportsMissedMail(t *testing.T) {
	w, src, hub, st := newTestWatcher(t)
	ctx := context.Background()

	require.NoError(t, st.SaveWatermark(ctx, &store.Watermark{Mailbox: "a@example.com", UIDValidity: 1, UIDNext: 5, Messages: 4}))
	src.set("a@example.com", 1, 7, 6)
	sub := hub.Subscribe("a@example.com")

	_, err := w.Watch(ctx, email.Credential{Address: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), receive(t, sub).Count)
}

func TestWatcher_WatchRejectsBadCredential(t *testing.T) {
	w, _, _, _ := newTestWatcher(t)

	_, err := w.Watch(context.Background(), email.Credential{Address: "unknown@example.com"})
	assert.Error(t, err)
	assert.Empty(t, w.Watched())
}

func TestWatcher_Unwatch(t *testing.T) {
	w, src, _, st := newTestWatcher(t)
	ctx := context.Background()
	src.set("a@example.com", 1, 2, 1)

	_, err := w.Watch(ctx, email.Credential{Address: "a@example.com", Secret: "pw"})
	require.NoError(t, err)

	ok, err := w.Unwatch(ctx, email.Credential{Address: "a@example.com", Secret: "wrong"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"a@example.com"}, w.Watched())

	ok, err = w.Unwatch(ctx, email.Credential{Address: "A@example.com", Secret: "pw"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, w.Watched())

	mark, err := st.Watermark(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, mark)

	ok, err = w.Unwatch(ctx, email.Credential{Address: "a@example.com", Secret: "pw"})
	require.NoError(t, err)
	assert.False(t, ok)

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	w.PollAll(ctx)
	src.mu.Lock()
	assert.Equal(t, calls, src.calls)
	src.mu.Unlock()
}

func TestWatcher_EventToken(t *testing.T) {
	w, src, _, _ := newTestWatcher(t)
	ctx := context.Background()
	src.set("a@example.com", 1, 2, 1)

	assert.False(t, w.Authorized("a@example.com", ""))

	token, err := w.Watch(ctx, email.Credential{Address: "a@example.com", Secret: "pw"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.True(t, w.Authorized("A@example.com", token))
	assert.False(t, w.Authorized("a@example.com", "guess"))
	assert.False(t, w.Authorized("b@example.com", token))

	// Same secret keeps the stream token
	again, err := w.Watch(ctx, email.Credential{Address: "a@example.com", Secret: "pw"})
	require.NoError(t, err)
	assert.Equal(t, token, again)

	// A new secret replaces it
	rotated, err := w.Watch(ctx, email.Credential{Address: "a@example.com", Secret: "pw2"})
	require.NoError(t, err)
	assert.NotEqual(t, token, rotated)
	assert.False(t, w.Authorized("a@example.com", token))
	assert.True(t, w.Authorized("a@example.com", rotated))

	ok, err := w.Unwatch(ctx, email.Credential{Address: "a@example.com", Secret: "pw2"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, w.Authorized("a@example.com", rotated))
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	src := &fakeSource{status: make(map[string]*imap.MailboxStatus)}
	hub := NewHub(4, testLogger())
	w := NewWatcher(src, newTestStore(t), hub, 10*time.Millisecond, 100, testLogger())

	src.set("a@example.com", 1, 2, 1)
	_, err := w.Watch(context.Background(), email.Credential{Address: "a@example.com"})
	require.NoError(t, err)
	sub := hub.Subscribe("a@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	src.set("a@example.com", 1, 3, 2)
	assert.Equal(t, uint32(1), receive(t, sub).Count)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
