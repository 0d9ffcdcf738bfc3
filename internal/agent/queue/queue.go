// Package queue is the device-side durable capture queue. Every enqueue is
// flushed to disk before the call returns, so a crash loses at most the
// in-flight interaction, never an already-enqueued record. Payloads are
// encrypted at rest with a device-held key; the queue offers no way to
// mutate a payload after enqueue, only status transitions.
package queue

import (
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/fieldproof/fieldproof/internal/domain"
)

//go:embed schema.sql
var schema string

//nolint:gochecknoglobals // sentinel error
var ErrStorageFull = errors.New("queue: storage full")

//nolint:gochecknoglobals // sentinel error
var ErrNotFound = errors.New("queue: record not found")

//nolint:gochecknoglobals // sentinel error
var ErrInvalidKey = errors.New("queue: invalid encryption key")

// Status is the queue-local lifecycle of a record. SYNCED has no constant:
// a synced record is deleted once the server's acknowledgment is durable.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Record wraps a CaptureEvent with queue-local delivery metadata.
type Record struct {
	LocalID       uuid.UUID
	Status        Status
	Event         *domain.CaptureEvent
	Attempts      int
	EnqueuedAt    time.Time
	LastAttemptAt *time.Time
	RetryAt       *time.Time
	LastError     string
}

// Stats summarizes the queue for the status command and the sync engine.
type Stats struct {
	Queued        int       `json:"queued"`
	Syncing       int       `json:"syncing"`
	Failed        int       `json:"failed"`
	OldestPending time.Time `json:"oldest_pending,omitempty"`
}

// Queue is an encrypted SQLite-backed FIFO of capture events awaiting
// delivery.
type Queue struct {
	db   *sql.DB
	aead cipher.AEAD
}

// Open opens (or creates) the queue database at path with the given 32-byte
// encryption key. The database is opened with WAL journaling and a full
// synchronous flush on every commit.
func Open(path string, key []byte) (*Queue, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("queue.Open: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue.Open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue.Open: init schema: %w", err)
	}

	return &Queue{db: db, aead: aead}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue durably stores a capture event and returns its queue record.
// The write is flushed before Enqueue returns. Storage exhaustion surfaces
// as ErrStorageFull so the caller can tell the user instead of dropping
// the capture silently.
func (q *Queue) Enqueue(event *domain.CaptureEvent) (*Record, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("queue.Enqueue: %w", err)
	}

	payload, err := q.seal(event)
	if err != nil {
		return nil, fmt.Errorf("queue.Enqueue: %w", err)
	}

	now := time.Now().UTC()
	_, err = q.db.Exec(
		"INSERT INTO queue_records (local_id, status, payload, enqueued_at) VALUES (?, ?, ?, ?)",
		event.LocalID.String(), string(StatusQueued), payload, now,
	)
	if err != nil {
		if isStorageFull(err) {
			return nil, ErrStorageFull
		}
		return nil, fmt.Errorf("queue.Enqueue: %w", err)
	}

	return &Record{
		LocalID:    event.LocalID,
		Status:     StatusQueued,
		Event:      event,
		EnqueuedAt: now,
	}, nil
}

// PeekNext returns the oldest non-terminal record once its retry time has
// passed, or nil when nothing is ready. A head record still inside its
// backoff window gates the whole queue: delivery is strictly FIFO, so
// newer records never jump ahead of a retrying one.
func (q *Queue) PeekNext() (*Record, error) {
	row := q.db.QueryRow(
		`SELECT local_id, status, payload, attempts, enqueued_at, last_attempt_at, retry_at, last_error
		 FROM queue_records
		 WHERE status IN (?, ?)
		 ORDER BY enqueued_at ASC
		 LIMIT 1`,
		string(StatusQueued), string(StatusSyncing),
	)

	rec, err := q.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue.PeekNext: %w", err)
	}

	if rec.RetryAt != nil && rec.RetryAt.After(time.Now()) {
		return nil, nil
	}

	return rec, nil
}

// Get returns a single record by local id.
func (q *Queue) Get(localID uuid.UUID) (*Record, error) {
	row := q.db.QueryRow(
		`SELECT local_id, status, payload, attempts, enqueued_at, last_attempt_at, retry_at, last_error
		 FROM queue_records WHERE local_id = ?`,
		localID.String(),
	)

	rec, err := q.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue.Get: %w", err)
	}

	return rec, nil
}

// MarkSyncing transitions a record into the in-flight state.
func (q *Queue) MarkSyncing(localID uuid.UUID) error {
	return q.touch(localID,
		"UPDATE queue_records SET status = ?, last_attempt_at = ? WHERE local_id = ?",
		string(StatusSyncing), time.Now().UTC(), localID.String())
}

// MarkSynced removes the record. The server acknowledged ingestion, so the
// authoritative copy now lives in the event store and the local one is no
// longer needed.
func (q *Queue) MarkSynced(localID uuid.UUID) error {
	res, err := q.db.Exec("DELETE FROM queue_records WHERE local_id = ?", localID.String())
	if err != nil {
		return fmt.Errorf("queue.MarkSynced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a transient delivery failure: increments the attempt
// count, stores the error, and schedules the next try at retryAt. The
// record goes back to QUEUED so a restart resumes it.
func (q *Queue) MarkFailed(localID uuid.UUID, cause string, retryAt time.Time) error {
	return q.touch(localID,
		`UPDATE queue_records
		 SET status = ?, attempts = attempts + 1, last_attempt_at = ?, retry_at = ?, last_error = ?
		 WHERE local_id = ?`,
		string(StatusQueued), time.Now().UTC(), retryAt.UTC(), cause, localID.String())
}

// MarkTerminal records a permanent validation rejection. The record is
// retained for audit and user correction; only RetryTerminal can put it
// back in rotation.
func (q *Queue) MarkTerminal(localID uuid.UUID, cause string) error {
	return q.touch(localID,
		`UPDATE queue_records
		 SET status = ?, attempts = attempts + 1, last_attempt_at = ?, retry_at = NULL, last_error = ?
		 WHERE local_id = ?`,
		string(StatusFailed), time.Now().UTC(), cause, localID.String())
}

// RetryTerminal re-queues every terminally failed record with a fresh
// attempt window and returns how many were re-queued.
func (q *Queue) RetryTerminal() (int, error) {
	res, err := q.db.Exec(
		"UPDATE queue_records SET status = ?, attempts = 0, retry_at = NULL WHERE status = ?",
		string(StatusQueued), string(StatusFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("queue.RetryTerminal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue.RetryTerminal: %w", err)
	}
	return int(n), nil
}

// Stats returns per-status counts and the oldest pending enqueue time.
func (q *Queue) Stats() (*Stats, error) {
	rows, err := q.db.Query("SELECT status, COUNT(*) FROM queue_records GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("queue.Stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("queue.Stats: %w", err)
		}
		switch Status(status) {
		case StatusQueued:
			stats.Queued = count
		case StatusSyncing:
			stats.Syncing = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue.Stats: %w", err)
	}

	var oldest sql.NullTime
	err = q.db.QueryRow(
		"SELECT MIN(enqueued_at) FROM queue_records WHERE status IN (?, ?)",
		string(StatusQueued), string(StatusSyncing),
	).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("queue.Stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPending = oldest.Time
	}

	return stats, nil
}

func (q *Queue) touch(localID uuid.UUID, query string, args ...any) error {
	res, err := q.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("queue: update %s: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// seal encrypts the event's canonical JSON as nonce || ciphertext.
func (q *Queue) seal(event *domain.CaptureEvent) ([]byte, error) {
	plaintext, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	nonce := make([]byte, q.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return q.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (q *Queue) open(sealed []byte) (*domain.CaptureEvent, error) {
	nonceSize := q.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("payload too short")
	}

	plaintext, err := q.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}

	var event domain.CaptureEvent
	if err := json.Unmarshal(plaintext, &event); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	return &event, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (q *Queue) scanRecord(row rowScanner) (*Record, error) {
	var (
		rawID   string
		status  string
		payload []byte
		rec     Record
	)
	var lastAttempt, retryAt sql.NullTime

	err := row.Scan(&rawID, &status, &payload, &rec.Attempts, &rec.EnqueuedAt,
		&lastAttempt, &retryAt, &rec.LastError)
	if err != nil {
		return nil, err
	}

	rec.LocalID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse local id: %w", err)
	}
	rec.Status = Status(status)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		rec.LastAttemptAt = &t
	}
	if retryAt.Valid {
		t := retryAt.Time
		rec.RetryAt = &t
	}

	rec.Event, err = q.open(payload)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rawID, err)
	}

	return &rec, nil
}

func isStorageFull(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrFull
}
