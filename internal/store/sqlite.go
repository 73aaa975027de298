package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/debias-review/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes event writes to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the report and events endpoints read while decisions are written.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS reviewers (
		reviewer_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		first_seen_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS review_sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		pending INTEGER NOT NULL DEFAULT 0,
		approved INTEGER NOT NULL DEFAULT 0,
		needs_regeneration INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		finalized_at INTEGER,
		closed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS review_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		sentence_id TEXT,
		reviewer_id TEXT,
		session_status TEXT,
		item_status TEXT,
		text TEXT,
		total INTEGER NOT NULL DEFAULT 0,
		pending INTEGER NOT NULL DEFAULT 0,
		approved INTEGER NOT NULL DEFAULT 0,
		needs_regeneration INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_review_events_session ON review_events(session_id, id);
	CREATE INDEX IF NOT EXISTS idx_review_events_created ON review_events(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record appends an event and folds it into the session summary in one
// transaction.
func (s *SQLiteStore) Record(ctx context.Context, ev domain.ReviewEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(ctx, "record event", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
		INSERT INTO review_events (session_id, type, sentence_id, reviewer_id, session_status, item_status,
			text, total, pending, approved, needs_regeneration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.SessionID, string(ev.Type), nullString(ev.SentenceID), nullString(ev.ReviewerID),
			nullString(string(ev.SessionStatus)), nullString(string(ev.ItemStatus)), nullString(ev.Text),
			ev.Stats.Total, ev.Stats.Pending, ev.Stats.Approved, ev.Stats.NeedsRegeneration,
			at.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		if err := upsertSessionSummary(ctx, tx, ev, at); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func upsertSessionSummary(ctx context.Context, tx *sql.Tx, ev domain.ReviewEvent, at time.Time) error {
	switch ev.Type {
	case domain.EventSessionDeleted, domain.EventSessionExpired:
		_, err := tx.ExecContext(ctx,
			`UPDATE review_sessions SET closed = 1, updated_at = ? WHERE session_id = ?`,
			at.UnixMilli(), ev.SessionID)
		if err != nil {
			return fmt.Errorf("close session summary: %w", err)
		}
		return nil
	}

	var finalizedAt any
	if ev.Type == domain.EventSessionFinalized {
		finalizedAt = at.UnixMilli()
	}
	status := string(ev.SessionStatus)
	if status == "" {
		status = string(domain.SessionInProgress)
	}

	_, err := tx.ExecContext(ctx, `
	INSERT INTO review_sessions (session_id, status, total, pending, approved, needs_regeneration,
		started_at, updated_at, finalized_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		total = excluded.total,
		pending = excluded.pending,
		approved = excluded.approved,
		needs_regeneration = excluded.needs_regeneration,
		updated_at = excluded.updated_at,
		finalized_at = COALESCE(excluded.finalized_at, review_sessions.finalized_at)`,
		ev.SessionID, status, ev.Stats.Total, ev.Stats.Pending, ev.Stats.Approved, ev.Stats.NeedsRegeneration,
		at.UnixMilli(), at.UnixMilli(), finalizedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session summary: %w", err)
	}
	return nil
}

// SessionEvents returns the events of a session in the order recorded.
func (s *SQLiteStore) SessionEvents(ctx context.Context, sessionID string) ([]domain.ReviewEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, sentence_id, reviewer_id, session_status, item_status, text,
		       total, pending, approved, needs_regeneration, created_at
		FROM review_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.ReviewEvent
	for rows.Next() {
		var ev domain.ReviewEvent
		var typ string
		var sentenceID, reviewerID, sessStatus, itemStatus, text sql.NullString
		var createdAt int64
		if err := rows.Scan(&typ, &sentenceID, &reviewerID, &sessStatus, &itemStatus, &text,
			&ev.Stats.Total, &ev.Stats.Pending, &ev.Stats.Approved, &ev.Stats.NeedsRegeneration, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.SessionID = sessionID
		ev.SentenceID = sentenceID.String
		ev.ReviewerID = reviewerID.String
		ev.SessionStatus = domain.SessionStatus(sessStatus.String)
		ev.ItemStatus = domain.ItemStatus(itemStatus.String)
		ev.Text = text.String
		ev.At = time.UnixMilli(createdAt).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// GetSessionAudit returns the summary of a session, or nil if none was recorded.
func (s *SQLiteStore) GetSessionAudit(ctx context.Context, sessionID string) (*SessionAudit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, total, pending, approved, needs_regeneration,
		       started_at, updated_at, finalized_at, closed
		FROM review_sessions WHERE session_id = ?`, sessionID)

	var (
		a                    SessionAudit
		status               string
		startedAt, updatedAt int64
		finalizedAt          sql.NullInt64
		closed               int
	)
	err := row.Scan(&status, &a.Stats.Total, &a.Stats.Pending, &a.Stats.Approved, &a.Stats.NeedsRegeneration,
		&startedAt, &updatedAt, &finalizedAt, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session audit row: %w", err)
	}

	a.SessionID = sessionID
	a.Status = domain.SessionStatus(status)
	a.StartedAt = time.UnixMilli(startedAt).UTC()
	a.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if finalizedAt.Valid {
		t := time.UnixMilli(finalizedAt.Int64).UTC()
		a.FinalizedAt = &t
	}
	a.Closed = closed != 0
	return &a, nil
}

// TouchReviewer creates or refreshes a reviewer record.
func (s *SQLiteStore) TouchReviewer(ctx context.Context, reviewerID, displayName string) error {
	now := time.Now().UnixMilli()
	return withRetry(ctx, "touch reviewer", func() error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviewers (reviewer_id, display_name, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(reviewer_id) DO UPDATE SET
			display_name = excluded.display_name,
			last_seen_at = excluded.last_seen_at`,
			reviewerID, displayName, now, now)
		if err != nil {
			return fmt.Errorf("upsert reviewer: %w", err)
		}
		return nil
	})
}

// GetReviewer retrieves a reviewer, or nil if unknown.
func (s *SQLiteStore) GetReviewer(ctx context.Context, reviewerID string) (*Reviewer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT display_name, first_seen_at, last_seen_at FROM reviewers WHERE reviewer_id = ?`, reviewerID)

	var (
		r           Reviewer
		first, last int64
	)
	err := row.Scan(&r.DisplayName, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reviewer row: %w", err)
	}
	r.ReviewerID = reviewerID
	r.FirstSeenAt = time.UnixMilli(first).UTC()
	r.LastSeenAt = time.UnixMilli(last).UTC()
	return &r, nil
}

// PruneEvents removes events older than the given age.
func (s *SQLiteStore) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var deleted int64
	err := withRetry(ctx, "prune events", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM review_events WHERE created_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return deleted, err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
