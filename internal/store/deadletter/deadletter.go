// Package deadletter is a small embedded store for inbound events the
// Router could not resolve (spec.md §4.2: "the event is parked in a
// dead-letter log and dropped from the pipeline"). It is backed by
// modernc.org/sqlite — a pure-Go, cgo-free engine — so the log survives
// process restarts without requiring a Postgres round trip on the hot
// rejection path or a DB connection at all when Postgres is unreachable.
package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists unroutable inbound events.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite-backed dead-letter log at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("deadletter: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("deadletter: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reason TEXT NOT NULL,
	destination_msisdn TEXT NOT NULL,
	sender_msisdn TEXT NOT NULL,
	raw_event TEXT NOT NULL,
	received_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_destination ON dead_letters(destination_msisdn);
`

// Record inserts one dead-letter row. It satisfies router.DeadLetterSink.
func (s *Store) Record(ctx context.Context, reason, destinationMSISDN, senderMSISDN, raw string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (reason, destination_msisdn, sender_msisdn, raw_event, received_at) VALUES (?, ?, ?, ?, ?)`,
		reason, destinationMSISDN, senderMSISDN, raw, at,
	)
	if err != nil {
		return fmt.Errorf("deadletter: insert: %w", err)
	}
	return nil
}

// Entry is one recorded dead-letter row (used by the `chatbot routes` CLI
// and by operators auditing unroutable traffic).
type Entry struct {
	ID                int64
	Reason            string
	DestinationMSISDN string
	SenderMSISDN      string
	RawEvent          string
	ReceivedAt        time.Time
}

// Recent returns the most recent n dead-letter entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reason, destination_msisdn, sender_msisdn, raw_event, received_at
		 FROM dead_letters ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("deadletter: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Reason, &e.DestinationMSISDN, &e.SenderMSISDN, &e.RawEvent, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("deadletter: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
