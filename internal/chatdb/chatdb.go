// Package chatdb reads incoming messages from the local iMessage store.
// The store is treated as append-only: rows are only ever read, never
// written, and the database is always opened read-only.
package chatdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// appleEpochOffset is the number of seconds between the Unix epoch and the
// Core Data epoch (2001-01-01 00:00:00 UTC) used by message.date.
const appleEpochOffset = 978307200

// Row is one incoming message joined with its sender handle, chat, and
// (optionally) first attachment.
type Row struct {
	RowID          int64
	Sender         string // handle.id: phone number or email
	Text           string
	ChatGUID       string
	AttachmentPath string // relative to the Messages directory, empty if none
	MIMEType       string
	Date           time.Time
}

const newRowsQuery = `
SELECT
    m.ROWID,
    COALESCE(m.text, ''),
    h.id,
    m.date,
    c.guid,
    COALESCE(att.filename, ''),
    COALESCE(att.mime_type, '')
FROM message m
JOIN handle h ON m.handle_id = h.ROWID
JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
JOIN chat c ON cmj.chat_id = c.ROWID
LEFT JOIN message_attachment_join maj ON m.ROWID = maj.message_id
LEFT JOIN attachment att ON maj.attachment_id = att.ROWID
WHERE m.is_from_me = 0
  AND m.ROWID > ?
ORDER BY m.ROWID ASC`

const maxRowIDQuery = `SELECT COALESCE(MAX(ROWID), 0) FROM message WHERE is_from_me = 0`

// Reader provides read-only access to a chat.db file.
type Reader struct {
	db   *sql.DB
	path string
}

// Open opens the chat store at path in read-only mode. The file must already
// exist; the Messages app creates it.
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("chat store: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open chat store: %w", err)
	}
	return &Reader{db: db, path: path}, nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}

// Path returns the chat store location the reader was opened with.
func (r *Reader) Path() string {
	return r.path
}

// Ping verifies the store is reachable.
func (r *Reader) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// QueryMaxRowID returns the highest ROWID among incoming messages, or 0 for
// an empty store. Used to initialize the cursor so pre-existing history is
// never re-ingested.
func (r *Reader) QueryMaxRowID(ctx context.Context) (int64, error) {
	var max int64
	if err := r.db.QueryRowContext(ctx, maxRowIDQuery).Scan(&max); err != nil {
		return 0, fmt.Errorf("query max rowid: %w", err)
	}
	return max, nil
}

// QueryNewRows returns incoming messages with ROWID greater than cursor, in
// ascending ROWID order.
func (r *Reader) QueryNewRows(ctx context.Context, cursor int64) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, newRowsQuery, cursor)
	if err != nil {
		return nil, fmt.Errorf("query new rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		var rawDate int64
		if err := rows.Scan(&row.RowID, &row.Text, &row.Sender, &rawDate, &row.ChatGUID, &row.AttachmentPath, &row.MIMEType); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		row.Date = fromAppleTime(rawDate)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// fromAppleTime converts a Core Data timestamp to UTC time. Modern stores
// record nanoseconds since the Apple epoch; older ones record seconds. Values
// too large to be sane second counts are treated as nanoseconds.
func fromAppleTime(raw int64) time.Time {
	const nanoThreshold = int64(1) << 40
	if raw > nanoThreshold {
		sec := raw / 1e9
		nsec := raw % 1e9
		return time.Unix(sec+appleEpochOffset, nsec).UTC()
	}
	return time.Unix(raw+appleEpochOffset, 0).UTC()
}
