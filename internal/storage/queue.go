package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const queueColumns = `id, chat_jid, trigger_message_id, proposed_response, style_profile_id, status, created_at, expires_at, resolved_at`

func scanQueueItem(row rowScanner) (QueueItem, error) {
	var q QueueItem
	var styleID sql.NullInt64
	var createdAt, expiresAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&q.ID, &q.ChatJID, &q.TriggerMessageID, &q.ProposedResponse, &styleID,
		&q.Status, &createdAt, &expiresAt, &resolvedAt); err != nil {
		return QueueItem{}, err
	}
	if styleID.Valid {
		v := styleID.Int64
		q.StyleProfileID = &v
	}
	var err error
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return QueueItem{}, fmt.Errorf("parsing created_at for queue item %d: %w", q.ID, err)
	}
	if q.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return QueueItem{}, fmt.Errorf("parsing expires_at for queue item %d: %w", q.ID, err)
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return QueueItem{}, fmt.Errorf("parsing resolved_at for queue item %d: %w", q.ID, err)
		}
		q.ResolvedAt = &t
	}
	return q, nil
}

// InsertQueueItem stores a new pending proposal and returns its id.
func (s *Store) InsertQueueItem(q QueueItem) (int64, error) {
	var styleID any
	if q.StyleProfileID != nil {
		styleID = *q.StyleProfileID
	}
	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO approval_queue (chat_jid, trigger_message_id, proposed_response, style_profile_id, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		q.ChatJID, q.TriggerMessageID, q.ProposedResponse, styleID, formatTime(createdAt), formatTime(q.ExpiresAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetQueueItem(id int64) (QueueItem, error) {
	q, err := scanQueueItem(s.db.QueryRow(`SELECT `+queueColumns+` FROM approval_queue WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return QueueItem{}, ErrNotFound
	}
	return q, err
}

// ListQueueItems returns items with the given status, oldest first.
func (s *Store) ListQueueItems(status string, limit int) ([]QueueItem, error) {
	rows, err := s.db.Query(`SELECT `+queueColumns+` FROM approval_queue
		WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, q)
	}
	return results, rows.Err()
}

func (s *Store) CountPending(chatJID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM approval_queue WHERE chat_jid = ? AND status = 'pending'`, chatJID).Scan(&n)
	return n, err
}

// ExpirePending flips every pending item whose expiry is at or before now to
// expired and returns how many changed.
func (s *Store) ExpirePending(now time.Time) (int64, error) {
	ts := formatTime(now)
	res, err := s.db.Exec(`UPDATE approval_queue SET status = 'expired', resolved_at = ?
		WHERE status = 'pending' AND expires_at <= ?`, ts, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClaimQueueItem moves a live pending item to status in a single conditional
// update. It returns ErrNotFound when the item does not exist, is no longer
// pending, or has expired. At most one concurrent caller can succeed.
func (s *Store) ClaimQueueItem(id int64, status string, now time.Time) (QueueItem, error) {
	if status != StatusApproved && status != StatusRejected {
		return QueueItem{}, fmt.Errorf("invalid claim status %q", status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return QueueItem{}, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	ts := formatTime(now)
	res, err := tx.Exec(`UPDATE approval_queue SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?`, status, ts, id, ts)
	if err != nil {
		return QueueItem{}, fmt.Errorf("updating queue item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return QueueItem{}, fmt.Errorf("checking updated queue rows: %w", err)
	}
	if n != 1 {
		return QueueItem{}, ErrNotFound
	}

	q, err := scanQueueItem(tx.QueryRow(`SELECT `+queueColumns+` FROM approval_queue WHERE id = ?`, id))
	if err != nil {
		return QueueItem{}, fmt.Errorf("reading claimed queue item %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return QueueItem{}, fmt.Errorf("committing claim: %w", err)
	}
	return q, nil
}

// ReleaseQueueItem returns an approved claim to pending. It only matches the
// claim made at resolvedAt, so a release never undoes someone else's resolution.
func (s *Store) ReleaseQueueItem(id int64, resolvedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE approval_queue SET status = 'pending', resolved_at = NULL
		WHERE id = ? AND status = 'approved' AND resolved_at = ?`, id, formatTime(resolvedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetQueueResponse records the text that was actually sent for an approved item.
func (s *Store) SetQueueResponse(id int64, text string) error {
	res, err := s.db.Exec(`UPDATE approval_queue SET proposed_response = ? WHERE id = ? AND status = 'approved'`, text, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
