package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// PutSent records a server-confirmed message (idempotent on server id).
// Kept for offline-capable history; the live UI reads the conversation
// cache instead.
func (db *DB) PutSent(m *SentMessage) error {
	atts, err := marshalAttachments(m.Attachments)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO sent_messages (id, client_id, chat_id, sender_id, content, attachments, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_read = excluded.is_read`,
		m.ID, m.ClientID, m.ChatID, m.SenderID, m.Content, atts, m.IsRead, m.CreatedAt)
	return err
}

// GetSent returns a sent record by server id.
func (db *DB) GetSent(id string) (*SentMessage, error) {
	row := db.QueryRow(`
		SELECT id, client_id, chat_id, sender_id, content, attachments, is_read, created_at
		FROM sent_messages WHERE id = ?`, id)
	m, err := scanSent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListSent returns the sent records for a chat in confirmation order.
func (db *DB) ListSent(chatID string) ([]SentMessage, error) {
	rows, err := db.Query(`
		SELECT id, client_id, chat_id, sender_id, content, attachments, is_read, created_at
		FROM sent_messages WHERE chat_id = ? ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []SentMessage
	for rows.Next() {
		m, err := scanSent(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanSent(s scanner) (*SentMessage, error) {
	var m SentMessage
	var atts sql.NullString
	err := s.Scan(&m.ID, &m.ClientID, &m.ChatID, &m.SenderID, &m.Content, &atts, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if atts.Valid {
		if err := json.Unmarshal([]byte(atts.String), &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return &m, nil
}
