package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-gateway/pkg/types"
)

// DefaultSendLimit caps RecentSends when no limit is given
const DefaultSendLimit = 50

// Watermark is the last observed INBOX state of a watched mailbox
type Watermark struct {
	Mailbox     string
	UIDValidity uint32
	UIDNext     uint32
	Messages    uint32
	UpdatedAt   time.Time
}

// Store provides the send journal and watermark queries
type Store struct {
	db     *DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewStore creates a new store instance
func NewStore(db *DB, logger *logrus.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// RecordSend appends one send outcome to the journal and sets rec.ID and
// rec.CreatedAt
func (s *Store) RecordSend(ctx context.Context, rec *types.SendRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO send_log (mailbox, message_id, recipients, subject, attempts, success, error_code, error, archived_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.db.ExecContext(ctx, query,
		rec.Mailbox,
		rec.MessageID,
		rec.Recipients,
		rec.Subject,
		rec.Attempts,
		rec.Success,
		rec.ErrorCode,
		rec.Error,
		rec.ArchivedTo,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record send: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get send ID: %w", err)
	}
	rec.ID = id

	s.logger.WithFields(logrus.Fields{
		"mailbox":    rec.Mailbox,
		"message_id": rec.MessageID,
		"success":    rec.Success,
	}).Debug("Recorded send")
	return nil
}

// RecentSends returns the newest journal entries for a mailbox, newest first
func (s *Store) RecentSends(ctx context.Context, mailbox string, limit int) ([]types.SendRecord, error) {
	if limit <= 0 {
		limit = DefaultSendLimit
	}

	query := `
		SELECT id, mailbox, message_id, recipients, subject, attempts, success, error_code, error, archived_to, created_at
		FROM send_log
		WHERE mailbox = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.db.QueryContext(ctx, query, mailbox, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sends: %w", err)
	}
	defer rows.Close()

	records := []types.SendRecord{}
	for rows.Next() {
		var rec types.SendRecord
		var subject, code, msg, archived sql.NullString
		var created string

		err := rows.Scan(
			&rec.ID,
			&rec.Mailbox,
			&rec.MessageID,
			&rec.Recipients,
			&subject,
			&rec.Attempts,
			&rec.Success,
			&code,
			&msg,
			&archived,
			&created,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan send: %w", err)
		}

		rec.Subject = subject.String
		rec.ErrorCode = code.String
		rec.Error = msg.String
		rec.ArchivedTo = archived.String
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = t
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sends: %w", err)
	}

	return records, nil
}

// Watermark returns the stored mark for a mailbox, or nil when none exists
func (s *Store) Watermark(ctx context.Context, mailbox string) (*Watermark, error) {
	query := `
		SELECT mailbox, uid_validity, uid_next, messages, updated_at
		FROM mailbox_marks
		WHERE mailbox = ?
	`
	var mark Watermark
	var updated string

	err := s.db.db.QueryRowContext(ctx, query, mailbox).Scan(
		&mark.Mailbox,
		&mark.UIDValidity,
		&mark.UIDNext,
		&mark.Messages,
		&updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		mark.UpdatedAt = t
	}
	return &mark, nil
}

// SaveWatermark upserts the mark for a mailbox
func (s *Store) SaveWatermark(ctx context.Context, mark *Watermark) error {
	if mark.UpdatedAt.IsZero() {
		mark.UpdatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO mailbox_marks (mailbox, uid_validity, uid_next, messages, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(mailbox) DO UPDATE SET
			uid_validity = excluded.uid_validity,
			uid_next = excluded.uid_next,
			messages = excluded.messages,
			updated_at = excluded.updated_at
	`
	_, err := s.db.db.ExecContext(ctx, query,
		mark.Mailbox,
		mark.UIDValidity,
		mark.UIDNext,
		mark.Messages,
		mark.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}
	return nil
}

// DeleteWatermark forgets a mailbox
func (s *Store) DeleteWatermark(ctx context.Context, mailbox string) error {
	if _, err := s.db.db.ExecContext(ctx, "DELETE FROM mailbox_marks WHERE mailbox = ?", mailbox); err != nil {
		return fmt.Errorf("failed to delete watermark: %w", err)
	}
	return nil
}
