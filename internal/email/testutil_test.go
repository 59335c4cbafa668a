package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-gateway/internal/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// rawMessage builds a minimal text/plain message numbered n
func rawMessage(n uint32) []byte {
	return []byte(fmt.Sprintf("From: Sender %d <sender%d@example.com>\r\n"+
		"To: rcpt@example.com\r\n"+
		"Subject: Message %d\r\n"+
		"Date: Tue, 10 Feb 2026 08:00:00 +0000\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n"+
		"Body %d\r\n", n, n, n, n))
}

// fakeIMAP is an in-memory IMAPConn. Messages are delivered odd sequence
// numbers first to mimic a server that does not answer in order.
type fakeIMAP struct {
	mu sync.Mutex

	folders   map[string]uint32
	appendErr map[string]error
	body      func(seq uint32) []byte
	listed    []*imap.MailboxInfo

	// selectBlock, when set, holds every SELECT until it is closed
	selectBlock chan struct{}

	selects    []string
	noops      int
	fetchCalls int
	fetched    []uint32
	appended   map[string][][]byte
}

func newFakeIMAP(folders map[string]uint32) *fakeIMAP {
	return &fakeIMAP{
		folders:   folders,
		appendErr: make(map[string]error),
		body:      rawMessage,
		appended:  make(map[string][][]byte),
	}
}

func (f *fakeIMAP) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	f.mu.Lock()
	f.selects = append(f.selects, name)
	block := f.selectBlock
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	total, ok := f.folders[name]
	if !ok {
		return nil, errors.New("Mailbox doesn't exist: " + name)
	}
	return &imap.MailboxStatus{
		Name:        name,
		ReadOnly:    readOnly,
		Messages:    total,
		UidNext:     total + 1,
		UidValidity: 1,
	}, nil
}

func (f *fakeIMAP) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)

	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()

	var seqs []uint32
	for _, set := range seqset.Set {
		for seq := set.Start; seq <= set.Stop; seq++ {
			seqs = append(seqs, seq)
		}
	}

	deliver := func(seq uint32) {
		msg := imap.NewMessage(seq, items)
		msg.Uid = 1000 + seq
		msg.Flags = []string{imap.SeenFlag}
		msg.Body[&imap.BodySectionName{}] = bytes.NewBuffer(f.body(seq))

		f.mu.Lock()
		f.fetched = append(f.fetched, seq)
		f.mu.Unlock()
		ch <- msg
	}
	for _, seq := range seqs {
		if seq%2 == 1 {
			deliver(seq)
		}
	}
	for _, seq := range seqs {
		if seq%2 == 0 {
			deliver(seq)
		}
	}
	return nil
}

func (f *fakeIMAP) Append(mbox string, flags []string, date time.Time, msg imap.Literal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.appendErr[mbox]; err != nil {
		return err
	}
	b, err := io.ReadAll(msg)
	if err != nil {
		return err
	}
	f.appended[mbox] = append(f.appended[mbox], b)
	return nil
}

func (f *fakeIMAP) List(ref, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	for _, info := range f.listed {
		ch <- info
	}
	return nil
}

func (f *fakeIMAP) Noop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noops++
	return nil
}

func (f *fakeIMAP) Logout() error { return nil }

func (f *fakeIMAP) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *fakeIMAP) Noops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noops
}

func (f *fakeIMAP) Selects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.selects)
}

// newTestIMAPServer starts go-imap's in-memory backend. It knows one user,
// "username" with password "password", whose INBOX holds one message.
func newTestIMAPServer(t *testing.T) string {
	t.Helper()

	srv := server.New(memory.New())
	srv.AllowInsecureAuth = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String()
}

// closedAddr returns an address nothing listens on
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func testIMAPConfig(t *testing.T, addr string) config.IMAPConfig {
	host, port := splitHostPort(t, addr)
	return config.IMAPConfig{
		Host:              host,
		Port:              port,
		ConnectTimeout:    2 * time.Second,
		AuthTimeout:       2 * time.Second,
		KeepaliveInterval: time.Second,
		CommandTimeout:    2 * time.Second,
	}
}

func testSMTPConfig(t *testing.T, addr string) config.SMTPConfig {
	host, port := splitHostPort(t, addr)
	return config.SMTPConfig{
		Host:            host,
		Port:            port,
		ConnectTimeout:  2 * time.Second,
		SocketTimeout:   2 * time.Second,
		GreetingTimeout: 2 * time.Second,
		VerifyTimeout:   2 * time.Second,
		SendTimeout:     2 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    time.Millisecond,
	}
}
