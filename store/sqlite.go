package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/praxislabs/agentbus/message"
)

// SQLiteStore implements QueueStore using SQLite. A single relational table
// indexed on (target_agent, status, next_retry_at, priority, created_at)
// serves the ordered scans, and the claim is a conditional UPDATE so the
// database resolves races.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteStore opens (and if necessary creates) a SQLite-backed store at
// the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id             TEXT PRIMARY KEY,
		source_agent   TEXT NOT NULL,
		target_agent   TEXT NOT NULL,
		type           TEXT NOT NULL,
		priority       INTEGER NOT NULL,
		content        BLOB NOT NULL,
		correlation_id TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		status         TEXT NOT NULL,
		attempt_count  INTEGER NOT NULL DEFAULT 0,
		max_attempts   INTEGER NOT NULL DEFAULT 0,
		next_retry_at  INTEGER NOT NULL DEFAULT 0,
		claimed_at     INTEGER NOT NULL DEFAULT 0,
		result         BLOB,
		error          TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_messages_queue
		ON messages(target_agent, status, next_retry_at, priority, created_at);

	CREATE INDEX IF NOT EXISTS idx_messages_correlation
		ON messages(correlation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const messageColumns = `id, source_agent, target_agent, type, priority, content,
	correlation_id, created_at, status, attempt_count, max_attempts,
	next_retry_at, claimed_at, result, error`

// Put persists a new message.
func (s *SQLiteStore) Put(ctx context.Context, msg *message.AgentMessage) error {
	if s.closed.Load() {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SourceAgent, msg.TargetAgent, string(msg.Type), int(msg.Priority),
		msg.Content, msg.CorrelationID, toNanos(msg.CreatedAt), string(msg.Status),
		msg.AttemptCount, msg.MaxAttempts, toNanos(msg.NextRetryAt),
		toNanos(msg.ClaimedAt), msg.Result, msg.Error)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

// Get retrieves a message by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// Update replaces a stored message.
func (s *SQLiteStore) Update(ctx context.Context, msg *message.AgentMessage) error {
	if s.closed.Load() {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			source_agent = ?, target_agent = ?, type = ?, priority = ?,
			content = ?, correlation_id = ?, created_at = ?, status = ?,
			attempt_count = ?, max_attempts = ?, next_retry_at = ?,
			claimed_at = ?, result = ?, error = ?
		WHERE id = ?`,
		msg.SourceAgent, msg.TargetAgent, string(msg.Type), int(msg.Priority),
		msg.Content, msg.CorrelationID, toNanos(msg.CreatedAt), string(msg.Status),
		msg.AttemptCount, msg.MaxAttempts, toNanos(msg.NextRetryAt),
		toNanos(msg.ClaimedAt), msg.Result, msg.Error, msg.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateClaimed replaces a message still processing under the given claim.
// Same compare-and-set shape as Claim: the WHERE clause is the precondition.
func (s *SQLiteStore) UpdateClaimed(ctx context.Context, msg *message.AgentMessage, claimedAt time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			source_agent = ?, target_agent = ?, type = ?, priority = ?,
			content = ?, correlation_id = ?, created_at = ?, status = ?,
			attempt_count = ?, max_attempts = ?, next_retry_at = ?,
			claimed_at = ?, result = ?, error = ?
		WHERE id = ? AND status = ? AND claimed_at = ?`,
		msg.SourceAgent, msg.TargetAgent, string(msg.Type), int(msg.Priority),
		msg.Content, msg.CorrelationID, toNanos(msg.CreatedAt), string(msg.Status),
		msg.AttemptCount, msg.MaxAttempts, toNanos(msg.NextRetryAt),
		toNanos(msg.ClaimedAt), msg.Result, msg.Error,
		msg.ID, string(message.StatusProcessing), toNanos(claimedAt))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, msg.ID); err != nil {
			return err
		}
		return ErrClaimConflict
	}
	return nil
}

// Claim atomically moves a message from pending to processing. The
// conditional UPDATE is the compare-and-set; RowsAffected tells us whether
// we won the race.
func (s *SQLiteStore) Claim(ctx context.Context, id string, now time.Time) (*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			status = ?, claimed_at = ?, attempt_count = attempt_count + 1
		WHERE id = ? AND status = ? AND next_retry_at <= ?`,
		string(message.StatusProcessing), toNanos(now), id,
		string(message.StatusPending), toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		// Lost the race, not yet retryable, or missing entirely.
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrClaimConflict
	}
	return s.Get(ctx, id)
}

// NextPending returns up to limit claimable messages for the agent.
func (s *SQLiteStore) NextPending(ctx context.Context, agent string, limit int, now time.Time) ([]*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE target_agent = ? AND status = ? AND next_retry_at <= ?
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT ?`,
		agent, string(message.StatusPending), toNanos(now), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListByStatus returns messages in the given status.
func (s *SQLiteStore) ListByStatus(ctx context.Context, agent string, status message.Status) ([]*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE status = ?`
	args := []interface{}{string(status)}
	if agent != "" {
		query += ` AND target_agent = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListByCorrelation returns all messages sharing a correlation ID.
func (s *SQLiteStore) ListByCorrelation(ctx context.Context, correlationID string) ([]*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if correlationID == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE correlation_id = ?
		ORDER BY created_at ASC, id ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ReapStuck returns messages processing since before the cutoff.
func (s *SQLiteStore) ReapStuck(ctx context.Context, cutoff time.Time) ([]*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE status = ? AND claimed_at < ?`,
		string(message.StatusProcessing), toNanos(cutoff))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Delete removes a message by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close shuts down the store.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for scanMessage.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*message.AgentMessage, error) {
	var (
		msg                                         message.AgentMessage
		typ, status                                 string
		priority                                    int
		createdAt, nextRetryAt, claimedAt           int64
	)
	err := row.Scan(&msg.ID, &msg.SourceAgent, &msg.TargetAgent, &typ, &priority,
		&msg.Content, &msg.CorrelationID, &createdAt, &status, &msg.AttemptCount,
		&msg.MaxAttempts, &nextRetryAt, &claimedAt, &msg.Result, &msg.Error)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	msg.Type = message.Type(typ)
	msg.Priority = message.Priority(priority)
	msg.Status = message.Status(status)
	msg.CreatedAt = fromNanos(createdAt)
	msg.NextRetryAt = fromNanos(nextRetryAt)
	msg.ClaimedAt = fromNanos(claimedAt)
	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]*message.AgentMessage, error) {
	var out []*message.AgentMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// Timestamps are stored as unix nanoseconds; zero means the zero time.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
