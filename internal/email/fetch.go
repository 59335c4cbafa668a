package email

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mail-gateway/pkg/types"
)

// FetchWindow is a page of a folder counted back from the newest message
type FetchWindow struct {
	Limit  int
	Offset int
}

// ComputeWindow maps a window onto sequence numbers for a folder holding
// total messages. ok is false when the window is empty.
func ComputeWindow(total uint32, w FetchWindow) (start, end uint32, ok bool) {
	limit, offset := int64(w.Limit), int64(w.Offset)
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}

	e := int64(total) - offset
	s := e - limit + 1
	if s < 1 {
		s = 1
	}
	if e < s {
		return 0, 0, false
	}
	return uint32(s), uint32(e), true
}

// Fetcher turns folder windows into normalized message summaries
type Fetcher struct {
	dateLayout  string
	location    *time.Location
	concurrency int
	now         func() time.Time
	logger      *logrus.Logger
}

// NewFetcher creates a fetcher. Dates are rendered in location, or the
// process's local zone when it is nil. concurrency bounds parallel MIME
// parses.
func NewFetcher(dateLayout string, location *time.Location, concurrency int, logger *logrus.Logger) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if location == nil {
		location = time.Local
	}
	return &Fetcher{
		dateLayout:  dateLayout,
		location:    location,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger,
	}
}

// FetchWindow fetches one page of an opened folder, newest first. An empty
// window returns an empty list without touching the server.
func (f *Fetcher) FetchWindow(ctx context.Context, conn IMAPConn, folder *OpenedFolder, w FetchWindow) ([]types.MessageSummary, error) {
	start, end, ok := ComputeWindow(folder.Total(), w)
	if !ok {
		return []types.MessageSummary{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(start, end)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- conn.Fetch(seqset, items, messages)
	}()

	// One slot per sequence number; a nil slot is a message that failed to
	// parse or never arrived.
	slots := make([]*types.MessageSummary, end-start+1)
	var processed, failed atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)

	for msg := range messages {
		if msg == nil || msg.SeqNum < start || msg.SeqNum > end {
			continue
		}
		msg := msg
		raw := readLiteral(msg.GetBody(section))

		g.Go(func() error {
			defer processed.Add(1)

			summary, err := f.summarize(msg, raw)
			if err != nil {
				failed.Add(1)
				f.logger.WithError(err).WithFields(logrus.Fields{
					"folder": folder.Name,
					"seqno":  msg.SeqNum,
				}).Warn("Skipping unparsable message")
				return nil
			}
			slots[msg.SeqNum-start] = summary
			return nil
		})
	}

	// Every dispatched parse must settle before the list is assembled
	_ = g.Wait()
	fetchErr := <-done
	if fetchErr != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", fetchErr)
	}

	summaries := make([]types.MessageSummary, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			summaries = append(summaries, *s)
		}
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SequenceNumber > summaries[j].SequenceNumber
	})

	f.logger.WithFields(logrus.Fields{
		"folder":    folder.Name,
		"start":     start,
		"end":       end,
		"processed": processed.Load(),
		"failed":    failed.Load(),
	}).Debug("Fetched window")

	return summaries, nil
}

// FetchRecent returns the newest limit messages of an opened folder. Sent and
// trash listings use it; they are not paginated.
func (f *Fetcher) FetchRecent(ctx context.Context, conn IMAPConn, folder *OpenedFolder, limit int) ([]types.MessageSummary, error) {
	return f.FetchWindow(ctx, conn, folder, FetchWindow{Limit: limit})
}

func (f *Fetcher) summarize(msg *imap.Message, raw []byte) (*types.MessageSummary, error) {
	parsed, err := ParseMessage(raw, f.now)
	if err != nil {
		return nil, err
	}

	flags := msg.Flags
	if flags == nil {
		flags = []string{}
	}

	return &types.MessageSummary{
		SequenceNumber: msg.SeqNum,
		UID:            msg.Uid,
		Flags:          flags,
		From:           parsed.From,
		To:             parsed.To,
		Subject:        parsed.Subject,
		Date:           parsed.Date.In(f.location).Format(f.dateLayout),
		Body:           parsed.Body,
		Attachments:    parsed.Attachments,
	}, nil
}

// readLiteral drains a fetched body section; nil when it was not returned
func readLiteral(literal imap.Literal) []byte {
	if literal == nil {
		return nil
	}
	b, err := io.ReadAll(literal)
	if err != nil {
		return nil
	}
	return b
}
