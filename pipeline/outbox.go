package pipeline

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Status is the delivery status of an outbox entry.
type Status string

const (
	// StatusPending means the entry awaits its first or next
	// transmission attempt.
	StatusPending Status = "pending"
	// StatusSending means the entry was handed to the transport and
	// awaits the server's send-accepted acknowledgment.
	StatusSending Status = "sending"
	// StatusSent means the server acknowledged the message ID.
	StatusSent Status = "sent"
	// StatusFailed means the retry cap was reached. Terminal; surfaced
	// to the caller.
	StatusFailed Status = "failed"
)

// Entry is one durable outbox record.
type Entry struct {
	MessageID  string
	Peer       string
	Envelope   []byte
	RetryCount int
	Status     Status
	EnqueuedAt time.Time
}

// ErrEntryNotFound indicates no outbox row for the message ID.
var ErrEntryNotFound = errors.New("outbox entry not found")

// Outbox is the sqlite-backed durable queue.
type Outbox struct {
	db *sql.DB
}

// OpenOutbox opens (creating if necessary) the outbox database.
func OpenOutbox(path string) (*Outbox, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", path, err)
	}
	// sqlite: a single connection avoids writer lock contention.
	db.SetMaxOpenConns(1)

	schema := `
    CREATE TABLE IF NOT EXISTS outbox (
        message_id  TEXT PRIMARY KEY,
        peer        TEXT NOT NULL,
        envelope    BLOB NOT NULL,
        retry_count INTEGER NOT NULL DEFAULT 0,
        status      TEXT NOT NULL,
        enqueued_at INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_outbox_peer_order ON outbox(peer, enqueued_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("outbox: create schema: %w", err)
	}
	return &Outbox{db: db}, nil
}

// Close closes the database.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Put persists a new entry as pending. Durability precedes any
// delivery attempt; idempotent on message ID.
func (o *Outbox) Put(e *Entry) error {
	_, err := o.db.Exec(
		`INSERT OR IGNORE INTO outbox (message_id, peer, envelope, retry_count, status, enqueued_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		e.MessageID, e.Peer, e.Envelope, e.RetryCount, string(StatusPending), e.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("outbox: put %s: %w", e.MessageID, err)
	}
	return nil
}

// SetStatus updates an entry's status.
func (o *Outbox) SetStatus(messageID string, status Status) error {
	res, err := o.db.Exec(`UPDATE outbox SET status = ? WHERE message_id = ?`, string(status), messageID)
	if err != nil {
		return fmt.Errorf("outbox: set status %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// IncrementRetry bumps the retry counter and returns the new value.
func (o *Outbox) IncrementRetry(messageID string) (int, error) {
	if _, err := o.db.Exec(`UPDATE outbox SET retry_count = retry_count + 1 WHERE message_id = ?`, messageID); err != nil {
		return 0, fmt.Errorf("outbox: increment retry %s: %w", messageID, err)
	}
	var count int
	err := o.db.QueryRow(`SELECT retry_count FROM outbox WHERE message_id = ?`, messageID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrEntryNotFound
	}
	return count, err
}

// Remove deletes an acknowledged entry.
func (o *Outbox) Remove(messageID string) error {
	_, err := o.db.Exec(`DELETE FROM outbox WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("outbox: remove %s: %w", messageID, err)
	}
	return nil
}

// Get returns one entry.
func (o *Outbox) Get(messageID string) (*Entry, error) {
	row := o.db.QueryRow(
		`SELECT message_id, peer, envelope, retry_count, status, enqueued_at
         FROM outbox WHERE message_id = ?`, messageID)
	return scanEntry(row)
}

// Unacknowledged returns every pending or sending entry in enqueue
// order (stable per peer). This is the resend walk after reconnect.
func (o *Outbox) Unacknowledged() ([]*Entry, error) {
	rows, err := o.db.Query(
		`SELECT message_id, peer, envelope, retry_count, status, enqueued_at
         FROM outbox WHERE status IN (?, ?) ORDER BY enqueued_at, rowid`,
		string(StatusPending), string(StatusSending))
	if err != nil {
		return nil, fmt.Errorf("outbox: list unacknowledged: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var status string
	var enqueuedAt int64
	err := s.Scan(&e.MessageID, &e.Peer, &e.Envelope, &e.RetryCount, &status, &enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("outbox: scan entry: %w", err)
	}
	e.Status = Status(status)
	e.EnqueuedAt = time.UnixMilli(enqueuedAt)
	return &e, nil
}
