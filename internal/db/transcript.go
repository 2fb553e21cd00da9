package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/chatforwarder/internal/events"
)

// Transcript entry kinds.
const (
	KindMessage = "message"
	KindCommand = "command"
)

// Entry is one row of the transcript. For messages Peer is the sender's
// address; for commands it is the command source.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
	Peer      string    `json:"peer"`
	Tag       *int      `json:"tag,omitempty"`
	Label     string    `json:"label,omitempty"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
}

// Transcript records received messages and sent commands.
type Transcript struct {
	db *Database
}

// OpenTranscript opens the transcript database and applies the schema.
func OpenTranscript(path string) (*Transcript, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	t := &Transcript{db: database}
	if err := t.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate transcript database: %w", err)
	}
	return t, nil
}

func (t *Transcript) migrate(ctx context.Context) error {
	return t.db.Transaction(ctx, func(tx *sql.Tx) error {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS transcript (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				at INTEGER NOT NULL,
				peer TEXT NOT NULL DEFAULT '',
				tag INTEGER,
				label TEXT NOT NULL DEFAULT '',
				text TEXT NOT NULL,
				error TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_transcript_at ON transcript(at)`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordMessage stores a received message.
func (t *Transcript) RecordMessage(ctx context.Context, m events.MessageReceived) error {
	_, err := t.db.Exec(ctx,
		`INSERT INTO transcript (session_id, kind, at, peer, tag, label, text) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, KindMessage, m.ReceivedAt.UnixNano(), m.From, int(m.Tag), m.Label, m.Text,
	)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

// RecordCommand stores a sent command.
func (t *Transcript) RecordCommand(ctx context.Context, c events.CommandSent) error {
	_, err := t.db.Exec(ctx,
		`INSERT INTO transcript (session_id, kind, at, peer, text, error) VALUES (?, ?, ?, ?, ?, ?)`,
		c.SessionID, KindCommand, c.SentAt.UnixNano(), c.Source, c.Command, c.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, oldest first.
func (t *Transcript) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := t.db.Query(ctx,
		`SELECT id, session_id, kind, at, peer, tag, label, text, error
		 FROM transcript ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e   Entry
			at  int64
			tag sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &at, &e.Peer, &tag, &e.Label, &e.Text, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		e.At = time.Unix(0, at)
		if tag.Valid {
			v := int(tag.Int64)
			e.Tag = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Count returns the number of entries for a session.
func (t *Transcript) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := t.db.QueryRow(ctx, `SELECT COUNT(*) FROM transcript WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// Prune deletes entries recorded before cutoff and returns how many were
// removed.
func (t *Transcript) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.db.Exec(ctx, `DELETE FROM transcript WHERE at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune transcript: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe records every message and command published on bus.
func (t *Transcript) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.EventMessageReceived, "transcript.message", func(ctx context.Context, e events.Event) error {
		m, ok := e.Payload.(events.MessageReceived)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return t.RecordMessage(ctx, m)
	})
	bus.Subscribe(events.EventCommandSent, "transcript.command", func(ctx context.Context, e events.Event) error {
		c, ok := e.Payload.(events.CommandSent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return t.RecordCommand(ctx, c)
	})

	log.Info().Str("path", t.db.Path()).Msg("recording transcript")
}

// Close closes the transcript database.
func (t *Transcript) Close() error {
	return t.db.Close()
}
