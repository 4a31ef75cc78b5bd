package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/pairchat/internal/chat"
)

// UpsertDialog inserts a dialog or moves its activity forward.
func (db *DB) UpsertDialog(ctx context.Context, d chat.Dialog) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO dialogs (id, user_a, user_b, created_at, updated_at, last_message_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = MAX(dialogs.updated_at, excluded.updated_at),
			last_message_id = CASE WHEN excluded.last_message_id != '' THEN excluded.last_message_id ELSE dialogs.last_message_id END`,
		d.ID, d.Participants[0], d.Participants[1], d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli(), d.LastMessageID)
	return err
}

// InsertMessage journals a message with its initial seen set. Re-inserting
// an existing id is a no-op.
func (db *DB) InsertMessage(ctx context.Context, m chat.Message) error {
	atts, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	if m.Attachments == nil {
		atts = []byte("[]")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, dialog_id, sender_id, type, text, attachments, created_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.DialogID, m.SenderID, string(m.Type), m.Text, string(atts), m.CreatedAt.UnixMilli(), m.Deleted)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	for _, uid := range m.SeenBy {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_seen (message_id, user_id) VALUES (?, ?)`, m.ID, uid); err != nil {
			return fmt.Errorf("insert seen %s: %w", m.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE dialogs SET updated_at = MAX(updated_at, ?), last_message_id = ?
		WHERE id = ?`, m.CreatedAt.UnixMilli(), m.ID, m.DialogID); err != nil {
		return fmt.Errorf("touch dialog %s: %w", m.DialogID, err)
	}
	return tx.Commit()
}

// MarkMessageDeleted sets the tombstone flag.
func (db *DB) MarkMessageDeleted(ctx context.Context, dialogID, messageID string) error {
	_, err := db.ExecContext(ctx, `UPDATE messages SET deleted = 1 WHERE id = ? AND dialog_id = ?`, messageID, dialogID)
	return err
}

// MarkDialogSeen adds userID to the seen set of every journaled message of
// the dialog and bumps the dialog's activity to at.
func (db *DB) MarkDialogSeen(ctx context.Context, dialogID, userID string, at time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_seen (message_id, user_id)
		SELECT id, ? FROM messages WHERE dialog_id = ? ORDER BY seq`, userID, dialogID); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE dialogs SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		at.UnixMilli(), dialogID); err != nil {
		return fmt.Errorf("touch dialog %s: %w", dialogID, err)
	}
	return tx.Commit()
}

// LoadDialogs returns every journaled dialog.
func (db *DB) LoadDialogs(ctx context.Context) ([]chat.Dialog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_a, user_b, created_at, updated_at, last_message_id
		FROM dialogs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Dialog
	for rows.Next() {
		var (
			d                chat.Dialog
			created, updated int64
		)
		if err := rows.Scan(&d.ID, &d.Participants[0], &d.Participants[1], &created, &updated, &d.LastMessageID); err != nil {
			return nil, err
		}
		d.CreatedAt = time.UnixMilli(created)
		d.UpdatedAt = time.UnixMilli(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}

// LoadMessages returns every journaled message in append order, with seen
// sets in the order they were recorded.
func (db *DB) LoadMessages(ctx context.Context) ([]chat.Message, error) {
	seen, err := db.loadSeen(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, dialog_id, sender_id, type, text, attachments, created_at, deleted
		FROM messages ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Message
	for rows.Next() {
		var (
			m       chat.Message
			typ     string
			atts    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.DialogID, &m.SenderID, &typ, &m.Text, &atts, &created, &m.Deleted); err != nil {
			return nil, err
		}
		m.Type = chat.MessageType(typ)
		m.CreatedAt = time.UnixMilli(created)
		if err := json.Unmarshal([]byte(atts), &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
		}
		if len(m.Attachments) == 0 {
			m.Attachments = nil
		}
		m.SeenBy = seen[m.ID]
		out = append(out, m)
	}
	return out, rows.Err()
}

func (db *DB) loadSeen(ctx context.Context) (map[string][]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT message_id, user_id FROM message_seen ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string][]string)
	for rows.Next() {
		var mid, uid string
		if err := rows.Scan(&mid, &uid); err != nil {
			return nil, err
		}
		seen[mid] = append(seen[mid], uid)
	}
	return seen, rows.Err()
}

// JournalCounts returns the number of journaled dialogs and messages.
func (db *DB) JournalCounts(ctx context.Context) (dialogs, messages int64, err error) {
	err = db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM dialogs), (SELECT COUNT(*) FROM messages)`).
		Scan(&dialogs, &messages)
	return dialogs, messages, err
}
