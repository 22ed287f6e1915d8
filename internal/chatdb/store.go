// Package chatdb reads the desktop messenger's history database. The
// database belongs to the messaging application; this package never
// writes to it.
package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// appleEpoch is the zero point of the store's timestamp column
// (2001-01-01 00:00:00 UTC). Values are nanoseconds since then.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrClosed is returned by queries after Close.
var ErrClosed = errors.New("chatdb: store is closed")

// Store provides read-only access to the message history database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	closed atomic.Bool
}

// Open opens the history database read-only with a busy timeout, so a
// concurrent writer (the messaging application itself) never wedges a
// poll tick.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("chatdb: open %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatdb: connect %s: %w", path, err)
	}

	// The application writes to this file; keep our read footprint small.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger.Info("history database opened", zap.String("path", path))

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle. Safe to call more than once and
// from a goroutine other than the one querying.
func (s *Store) Close() error {
	if s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// MessagesSince returns rows stamped at or after since, newest first,
// with attachments populated. Rows whose text body lives only in the
// binary attributedBody column surface an empty Text.
func (s *Store) MessagesSince(ctx context.Context, since time.Time) ([]*Message, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.ROWID, m.guid, m.text, m.date, m.is_from_me, m.is_read,
		       COALESCE(h.id, ''), COALESCE(c.guid, c.chat_identifier, ''),
		       COALESCE(c.style, 45)
		FROM message m
		LEFT JOIN handle h ON h.ROWID = m.handle_id
		LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		LEFT JOIN chat c ON c.ROWID = cmj.chat_id
		WHERE m.date >= ?
		ORDER BY m.date DESC
	`, toAppleNanos(since))
	if err != nil {
		return nil, fmt.Errorf("chatdb: query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatdb: iterate messages: %w", err)
	}

	if err := s.loadAttachments(ctx, msgs); err != nil {
		return nil, err
	}

	if msgs == nil {
		msgs = []*Message{}
	}
	return msgs, nil
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var (
		m     Message
		text  sql.NullString
		date  int64
		style int
	)
	if err := rows.Scan(&m.RowID, &m.GUID, &text, &date, &m.FromMe, &m.IsRead,
		&m.Handle, &m.ChatKey, &style); err != nil {
		return nil, fmt.Errorf("chatdb: scan message: %w", err)
	}
	m.Text = text.String
	m.Time = fromAppleNanos(date)
	m.IsGroup = style == 43 // 43 = group thread, 45 = direct
	if m.ChatKey == "" {
		m.ChatKey = m.Handle
	}
	return &m, nil
}

// loadAttachments fills Attachments for the given batch in one query.
func (s *Store) loadAttachments(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	byID := make(map[int64]*Message, len(msgs))
	placeholders := make([]string, 0, len(msgs))
	args := make([]any, 0, len(msgs))
	for _, m := range msgs {
		byID[m.RowID] = m
		placeholders = append(placeholders, "?")
		args = append(args, m.RowID)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT maj.message_id, COALESCE(a.filename, ''),
		       COALESCE(a.mime_type, ''), COALESCE(a.total_bytes, 0)
		FROM message_attachment_join maj
		JOIN attachment a ON a.ROWID = maj.attachment_id
		WHERE maj.message_id IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return fmt.Errorf("chatdb: query attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msgID int64
			att   Attachment
		)
		if err := rows.Scan(&msgID, &att.Filename, &att.MimeType, &att.Size); err != nil {
			return fmt.Errorf("chatdb: scan attachment: %w", err)
		}
		if m, ok := byID[msgID]; ok {
			m.Attachments = append(m.Attachments, att)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("chatdb: iterate attachments: %w", err)
	}
	return nil
}

func toAppleNanos(t time.Time) int64 {
	return t.Sub(appleEpoch).Nanoseconds()
}

func fromAppleNanos(ns int64) time.Time {
	return appleEpoch.Add(time.Duration(ns))
}
