package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PutQueued inserts or overwrites an outbox entry, keyed by client id.
// Idempotent: putting the same client id twice leaves exactly one row.
func (db *DB) PutQueued(q *QueuedMessage) error {
	atts, err := marshalAttachments(q.Payload.Attachments)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO outbox (client_id, chat_id, sender_id, content, attachments, status, attempts, enqueued_at, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			sender_id = excluded.sender_id,
			content = excluded.content,
			attachments = excluded.attachments,
			status = excluded.status,
			attempts = excluded.attempts,
			enqueued_at = excluded.enqueued_at,
			last_attempt_at = excluded.last_attempt_at`,
		q.Payload.ClientID, q.Payload.ChatID, q.Payload.SenderID, q.Payload.Content,
		atts, q.Status, q.Attempts, q.EnqueuedAt, nullInt(q.LastAttemptAt))
	return err
}

// GetQueued returns a single outbox entry by client id.
func (db *DB) GetQueued(clientID string) (*QueuedMessage, error) {
	row := db.QueryRow(`
		SELECT client_id, chat_id, sender_id, content, attachments, status, attempts, enqueued_at, last_attempt_at
		FROM outbox WHERE client_id = ?`, clientID)
	q, err := scanQueued(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// PendingOutbox returns every entry still waiting for delivery, oldest
// first. The queue re-sorts anyway; the ORDER BY just makes reads stable.
func (db *DB) PendingOutbox() ([]QueuedMessage, error) {
	rows, err := db.Query(`
		SELECT client_id, chat_id, sender_id, content, attachments, status, attempts, enqueued_at, last_attempt_at
		FROM outbox WHERE status = ? ORDER BY enqueued_at ASC`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []QueuedMessage
	for rows.Next() {
		q, err := scanQueued(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *q)
	}
	return entries, rows.Err()
}

// MarkSending transitions an entry to 'sending', increments its attempt
// count, and records the attempt time, all in one statement so a crash
// mid-send cannot lose the bookkeeping. Returns the updated entry.
func (db *DB) MarkSending(clientID string) (*QueuedMessage, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE outbox SET status = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE client_id = ?`, StatusSending, now, clientID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return db.GetQueued(clientID)
}

// SetQueuedStatus updates only the status of an outbox entry.
func (db *DB) SetQueuedStatus(clientID, status string) error {
	res, err := db.Exec(`UPDATE outbox SET status = ? WHERE client_id = ?`, status, clientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteQueued removes an outbox entry after confirmed delivery.
func (db *DB) DeleteQueued(clientID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE client_id = ?`, clientID)
	return err
}

// CountOutbox returns the number of outbox entries in the given status.
func (db *DB) CountOutbox(status string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status = ?`, status).Scan(&n)
	return n, err
}

// ResetFailed puts every failed entry back to 'pending' with a zeroed
// attempt count, for user-initiated retry. Returns how many were reset.
func (db *DB) ResetFailed() (int, error) {
	res, err := db.Exec(`
		UPDATE outbox SET status = ?, attempts = 0 WHERE status = ?`,
		StatusPending, StatusFailed)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQueued(s scanner) (*QueuedMessage, error) {
	var q QueuedMessage
	var atts sql.NullString
	var lastAttempt sql.NullInt64
	err := s.Scan(&q.Payload.ClientID, &q.Payload.ChatID, &q.Payload.SenderID, &q.Payload.Content,
		&atts, &q.Status, &q.Attempts, &q.EnqueuedAt, &lastAttempt)
	if err != nil {
		return nil, err
	}
	if atts.Valid {
		if err := json.Unmarshal([]byte(atts.String), &q.Payload.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	q.LastAttemptAt = lastAttempt.Int64
	return &q, nil
}

func marshalAttachments(atts []Attachment) (any, error) {
	if len(atts) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(atts)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}
	return string(data), nil
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
