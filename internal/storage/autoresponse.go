package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const chatConfigColumns = `id, chat_jid, enabled, style_profile_id, require_approval, max_daily_responses,
	daily_response_count, daily_count_reset_at, context_window_messages, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatConfig(row rowScanner) (ChatConfig, error) {
	var c ChatConfig
	var styleID, maxDaily sql.NullInt64
	var resetAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.ChatJID, &c.Enabled, &styleID, &c.RequireApproval, &maxDaily,
		&c.DailyResponseCount, &resetAt, &c.ContextWindowMessages, &createdAt, &updatedAt); err != nil {
		return ChatConfig{}, err
	}
	if styleID.Valid {
		v := styleID.Int64
		c.StyleProfileID = &v
	}
	if maxDaily.Valid {
		v := int(maxDaily.Int64)
		c.MaxDailyResponses = &v
	}
	if resetAt.Valid {
		t, err := parseTime(resetAt.String)
		if err != nil {
			return ChatConfig{}, fmt.Errorf("parsing daily_count_reset_at: %w", err)
		}
		c.DailyCountResetAt = &t
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return ChatConfig{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ChatConfig{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// GetChatConfig returns the config for chatJID, or ErrNotFound.
func (s *Store) GetChatConfig(chatJID string) (ChatConfig, error) {
	c, err := scanChatConfig(s.db.QueryRow(`SELECT `+chatConfigColumns+` FROM auto_response_config WHERE chat_jid = ?`, chatJID))
	if err == sql.ErrNoRows {
		return ChatConfig{}, ErrNotFound
	}
	return c, err
}

func (s *Store) ListChatConfigs() ([]ChatConfig, error) {
	rows, err := s.db.Query(`SELECT ` + chatConfigColumns + ` FROM auto_response_config ORDER BY chat_jid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatConfig
	for rows.Next() {
		c, err := scanChatConfig(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// StyleProfileExists reports whether a style preset with id is stored.
func (s *Store) StyleProfileExists(id int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM style_profiles WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// SaveChatConfig inserts or updates the policy fields of c. Counters are
// owned by ResetDailyCount and IncrementDailyCount and are never written here.
func (s *Store) SaveChatConfig(c ChatConfig) (ChatConfig, error) {
	now := formatTime(time.Now())

	var styleID, maxDaily any
	if c.StyleProfileID != nil {
		styleID = *c.StyleProfileID
	}
	if c.MaxDailyResponses != nil {
		maxDaily = *c.MaxDailyResponses
	}

	_, err := s.db.Exec(`
		INSERT INTO auto_response_config (chat_jid, enabled, style_profile_id, require_approval, max_daily_responses,
			daily_response_count, daily_count_reset_at, context_window_messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)
		ON CONFLICT(chat_jid) DO UPDATE SET
			enabled = excluded.enabled,
			style_profile_id = excluded.style_profile_id,
			require_approval = excluded.require_approval,
			max_daily_responses = excluded.max_daily_responses,
			context_window_messages = excluded.context_window_messages,
			updated_at = excluded.updated_at`,
		c.ChatJID, c.Enabled, styleID, c.RequireApproval, maxDaily, c.ContextWindowMessages, now, now,
	)
	if err != nil {
		return ChatConfig{}, fmt.Errorf("saving config for %s: %w", c.ChatJID, err)
	}
	return s.GetChatConfig(c.ChatJID)
}

// ResetDailyCount zeroes the daily counter and records the day boundary it
// was reset at.
func (s *Store) ResetDailyCount(chatJID string, resetAt time.Time) error {
	res, err := s.db.Exec(`UPDATE auto_response_config SET daily_response_count = 0, daily_count_reset_at = ? WHERE chat_jid = ?`,
		formatTime(resetAt), chatJID)
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

func (s *Store) IncrementDailyCount(chatJID string) error {
	res, err := s.db.Exec(`UPDATE auto_response_config SET daily_response_count = daily_response_count + 1 WHERE chat_jid = ?`, chatJID)
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

// --- Audit log ---

func (s *Store) AppendLog(e LogEntry) (int64, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var styleID any
	if e.StyleProfileID != nil {
		styleID = *e.StyleProfileID
	}
	res, err := s.db.Exec(`
		INSERT INTO auto_response_log (chat_jid, trigger_message_id, response_message_id, style_profile_id,
			prompt_tokens, completion_tokens, cost_usd, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ChatJID, e.TriggerMessageID, e.ResponseMessageID, styleID,
		e.PromptTokens, e.CompletionTokens, e.CostUSD, e.Approved, formatTime(createdAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CountApproved returns how many operator-approved replies were sent to chatJID.
func (s *Store) CountApproved(chatJID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM auto_response_log WHERE chat_jid = ? AND approved = 1`, chatJID).Scan(&n)
	return n, err
}

// ListLog returns the most recent log entries, optionally filtered by chat.
func (s *Store) ListLog(chatJID string, limit int) ([]LogEntry, error) {
	query := `SELECT id, chat_jid, trigger_message_id, response_message_id, style_profile_id,
		prompt_tokens, completion_tokens, cost_usd, approved, created_at FROM auto_response_log`
	var args []any
	if chatJID != "" {
		query += ` WHERE chat_jid = ?`
		args = append(args, chatJID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LogEntry
	for rows.Next() {
		var e LogEntry
		var respID sql.NullString
		var styleID sql.NullInt64
		var approved sql.NullBool
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ChatJID, &e.TriggerMessageID, &respID, &styleID,
			&e.PromptTokens, &e.CompletionTokens, &e.CostUSD, &approved, &createdAt); err != nil {
			return nil, err
		}
		e.ResponseMessageID = respID.String
		e.Approved = approved.Bool
		if styleID.Valid {
			v := styleID.Int64
			e.StyleProfileID = &v
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
