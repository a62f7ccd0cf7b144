package chatdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

const testSchema = `
CREATE TABLE message (
    ROWID INTEGER PRIMARY KEY,
    text TEXT,
    handle_id INTEGER,
    date INTEGER,
    is_from_me INTEGER
);
CREATE TABLE handle (
    ROWID INTEGER PRIMARY KEY,
    id TEXT
);
CREATE TABLE chat (
    ROWID INTEGER PRIMARY KEY,
    guid TEXT
);
CREATE TABLE chat_message_join (
    chat_id INTEGER,
    message_id INTEGER
);
CREATE TABLE message_attachment_join (
    message_id INTEGER,
    attachment_id INTEGER
);
CREATE TABLE attachment (
    ROWID INTEGER PRIMARY KEY,
    filename TEXT,
    mime_type TEXT
);
`

// seedStore builds a minimal chat.db with one handle and one chat, returning
// the file path. Messages are added through insertMessage.
func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO handle (ROWID, id) VALUES (1, '+15551234567')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO chat (ROWID, guid) VALUES (1, 'iMessage;-;+15551234567')`); err != nil {
		t.Fatal(err)
	}
	return path
}

func insertMessage(t *testing.T, path string, rowID int64, text string, fromMe int, date int64) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(
		`INSERT INTO message (ROWID, text, handle_id, date, is_from_me) VALUES (?, ?, 1, ?, ?)`,
		rowID, text, date, fromMe,
	); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO chat_message_join (chat_id, message_id) VALUES (1, ?)`, rowID); err != nil {
		t.Fatalf("insert chat join: %v", err)
	}
}

func attachToMessage(t *testing.T, path string, rowID int64, filename, mimeType string) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	res, err := db.Exec(`INSERT INTO attachment (filename, mime_type) VALUES (?, ?)`, filename, mimeType)
	if err != nil {
		t.Fatalf("insert attachment: %v", err)
	}
	attID, _ := res.LastInsertId()
	if _, err := db.Exec(`INSERT INTO message_attachment_join (message_id, attachment_id) VALUES (?, ?)`, rowID, attID); err != nil {
		t.Fatalf("insert attachment join: %v", err)
	}
}

func TestOpenMissingStore(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.db")); err == nil {
		t.Fatal("Open should fail for a missing store")
	}
}

func TestQueryMaxRowID(t *testing.T) {
	path := seedStore(t)
	insertMessage(t, path, 10, "hello", 0, 700000000)
	insertMessage(t, path, 11, "my own reply", 1, 700000001)
	insertMessage(t, path, 12, "again", 0, 700000002)

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	max, err := reader.QueryMaxRowID(context.Background())
	if err != nil {
		t.Fatalf("QueryMaxRowID: %v", err)
	}
	if max != 12 {
		t.Errorf("max rowid = %d, want 12", max)
	}
}

func TestQueryMaxRowIDEmptyStore(t *testing.T) {
	reader, err := Open(seedStore(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	max, err := reader.QueryMaxRowID(context.Background())
	if err != nil {
		t.Fatalf("QueryMaxRowID: %v", err)
	}
	if max != 0 {
		t.Errorf("max rowid = %d, want 0 for empty store", max)
	}
}

func TestQueryNewRows(t *testing.T) {
	path := seedStore(t)
	insertMessage(t, path, 1, "old", 0, 700000000)
	insertMessage(t, path, 2, "mine", 1, 700000001)
	insertMessage(t, path, 3, "first new", 0, 700000002)
	insertMessage(t, path, 4, "second new", 0, 700000003)
	attachToMessage(t, path, 4, "Attachments/ab/photo.heic", "image/heic")

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	rows, err := reader.QueryNewRows(context.Background(), 1)
	if err != nil {
		t.Fatalf("QueryNewRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (outgoing rows must be excluded)", len(rows))
	}

	if rows[0].RowID != 3 || rows[1].RowID != 4 {
		t.Errorf("row order = %d, %d, want ascending 3, 4", rows[0].RowID, rows[1].RowID)
	}
	if rows[0].Text != "first new" || rows[0].Sender != "+15551234567" {
		t.Errorf("row 3 = %+v", rows[0])
	}
	if rows[0].AttachmentPath != "" {
		t.Errorf("row 3 attachment = %q, want none", rows[0].AttachmentPath)
	}
	if rows[1].AttachmentPath != "Attachments/ab/photo.heic" || rows[1].MIMEType != "image/heic" {
		t.Errorf("row 4 attachment = %q (%q)", rows[1].AttachmentPath, rows[1].MIMEType)
	}
	if rows[1].ChatGUID != "iMessage;-;+15551234567" {
		t.Errorf("row 4 chat guid = %q", rows[1].ChatGUID)
	}
}

func TestQueryNewRowsNoneBeyondCursor(t *testing.T) {
	path := seedStore(t)
	insertMessage(t, path, 5, "seen already", 0, 700000000)

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	rows, err := reader.QueryNewRows(context.Background(), 5)
	if err != nil {
		t.Fatalf("QueryNewRows: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}

func TestFromAppleTime(t *testing.T) {
	tests := []struct {
		name string
		raw  int64
		want time.Time
	}{
		{name: "seconds", raw: 0, want: time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "seconds later", raw: 86400, want: time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC)},
		{name: "nanoseconds", raw: 86400 * 1e9, want: time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fromAppleTime(tt.raw); !got.Equal(tt.want) {
				t.Errorf("fromAppleTime(%d) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
