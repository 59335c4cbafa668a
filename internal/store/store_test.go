package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-gateway/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := Open(filepath.Join(t.TempDir(), "nested", "gateway.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(db, logger)
}

func TestRecordSend_RecentSends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok := &types.SendRecord{
		Mailbox:    "a@example.com",
		MessageID:  "<1@example.com>",
		Recipients: "bob@example.com",
		Subject:    "first",
		Attempts:   1,
		Success:    true,
		ArchivedTo: "INBOX.Sent",
	}
	require.NoError(t, s.RecordSend(ctx, ok))
	assert.NotZero(t, ok.ID)
	assert.False(t, ok.CreatedAt.IsZero())

	failed := &types.SendRecord{
		Mailbox:    "a@example.com",
		MessageID:  "<2@example.com>",
		Recipients: "carol@example.com",
		Attempts:   3,
		ErrorCode:  "451",
		Error:      "send failed after 3 attempts: 451 try later",
	}
	require.NoError(t, s.RecordSend(ctx, failed))

	other := &types.SendRecord{Mailbox: "z@example.com", MessageID: "<3@example.com>", Recipients: "x@example.com"}
	require.NoError(t, s.RecordSend(ctx, other))

	sends, err := s.RecentSends(ctx, "a@example.com", 0)
	require.NoError(t, err)
	require.Len(t, sends, 2)

	// Newest first
	assert.Equal(t, "<2@example.com>", sends[0].MessageID)
	assert.False(t, sends[0].Success)
	assert.Equal(t, "451", sends[0].ErrorCode)
	assert.Equal(t, 3, sends[0].Attempts)
	assert.Empty(t, sends[0].Subject)

	assert.Equal(t, "<1@example.com>", sends[1].MessageID)
	assert.True(t, sends[1].Success)
	assert.Equal(t, "INBOX.Sent", sends[1].ArchivedTo)
	assert.WithinDuration(t, ok.CreatedAt, sends[1].CreatedAt, time.Millisecond)

	limited, err := s.RecentSends(ctx, "a@example.com", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.RecentSends(ctx, "nobody@example.com", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mark, err := s.Watermark(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, mark)

	require.NoError(t, s.SaveWatermark(ctx, &Watermark{
		Mailbox:     "a@example.com",
		UIDValidity: 7,
		UIDNext:     100,
		Messages:    42,
	}))

	mark, err = s.Watermark(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, mark)
	assert.Equal(t, uint32(7), mark.UIDValidity)
	assert.Equal(t, uint32(100), mark.UIDNext)
	assert.Equal(t, uint32(42), mark.Messages)
	assert.False(t, mark.UpdatedAt.IsZero())

	require.NoError(t, s.SaveWatermark(ctx, &Watermark{
		Mailbox:     "a@example.com",
		UIDValidity: 7,
		UIDNext:     103,
		Messages:    45,
	}))

	mark, err = s.Watermark(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(103), mark.UIDNext)
	assert.Equal(t, uint32(45), mark.Messages)

	require.NoError(t, s.DeleteWatermark(ctx, "a@example.com"))
	mark, err = s.Watermark(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, mark)
}

func TestOpen_Reopen(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "gateway.db")

	db, err := Open(path, logger)
	require.NoError(t, err)
	s := NewStore(db, logger)
	require.NoError(t, s.RecordSend(context.Background(), &types.SendRecord{Mailbox: "a", MessageID: "m", Recipients: "r"}))
	require.NoError(t, db.Close())

	db, err = Open(path, logger)
	require.NoError(t, err)
	defer db.Close()

	sends, err := NewStore(db, logger).RecentSends(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Len(t, sends, 1)
}
