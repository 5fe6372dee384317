// Package wacli reads the message store written by the wacli sync daemon.
// The database is owned by wacli and is only ever opened read-only.
package wacli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/adaofeliz/whatsapp-agent-web/internal/jid"
)

// Message is one row of the wacli messages table.
type Message struct {
	ChatJID   string `json:"chatJid"`
	MsgID     string `json:"msgId"`
	SenderJID string `json:"senderJid,omitempty"`
	Timestamp int64  `json:"ts"`
	FromMe    bool   `json:"fromMe"`
	Text      string `json:"text"`
}

type Contact struct {
	JID          string `json:"jid"`
	Phone        string `json:"phone,omitempty"`
	PushName     string `json:"pushName,omitempty"`
	FullName     string `json:"fullName,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
	Alias        string `json:"alias,omitempty"`
}

// DisplayName picks the best human-readable name for a chat, falling back to
// the phone part of the JID.
func (c *Contact) DisplayName() string {
	for _, s := range []string{c.Alias, c.PushName, c.FullName, c.BusinessName, c.Phone} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return jid.User(c.JID)
}

// DB is a read-only handle on the wacli store.
type DB struct {
	db *sql.DB
}

// Open opens the wacli database at path read-only. The file must exist.
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("wacli database: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening wacli database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging wacli database: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

const messageColumns = `chat_jid, msg_id, sender_jid, ts, from_me, text`

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var sender, text sql.NullString
		var fromMe int
		if err := rows.Scan(&m.ChatJID, &m.MsgID, &sender, &m.Timestamp, &fromMe, &text); err != nil {
			return nil, err
		}
		m.SenderJID = sender.String
		m.Text = text.String
		m.FromMe = fromMe != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentMessages returns up to limit messages of chatJID, newest first.
func (d *DB) RecentMessages(ctx context.Context, chatJID string, limit int) ([]Message, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE chat_jid = ? ORDER BY ts DESC LIMIT ?`, chatJID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages for %s: %w", chatJID, err)
	}
	return scanMessages(rows)
}

// UnseenInbound returns inbound text messages in one-to-one chats with a
// timestamp strictly greater than sinceTS, oldest first.
func (d *DB) UnseenInbound(ctx context.Context, sinceTS int64, limit int) ([]Message, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE from_me = 0
			AND ts > ?
			AND chat_jid LIKE ?
			AND text IS NOT NULL
			AND text != ''
		ORDER BY ts ASC
		LIMIT ?`, sinceTS, "%"+jid.DirectSuffix, limit)
	if err != nil {
		return nil, fmt.Errorf("querying inbound messages: %w", err)
	}
	return scanMessages(rows)
}

// Message returns a single message, or nil when it is not in the store.
func (d *DB) Message(ctx context.Context, chatJID, msgID string) (*Message, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE chat_jid = ? AND msg_id = ? LIMIT 1`, chatJID, msgID)
	if err != nil {
		return nil, fmt.Errorf("querying message %s: %w", msgID, err)
	}
	msgs, err := scanMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// Contact returns contact details merged with any local alias, or nil when
// wacli knows nothing about the JID.
func (d *DB) Contact(ctx context.Context, contactJID string) (*Contact, error) {
	var c Contact
	var phone, push, full, first, business, alias sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT c.jid, c.phone, c.push_name, c.full_name, c.first_name, c.business_name, a.alias
		FROM contacts c
		LEFT JOIN contact_aliases a ON a.jid = c.jid
		WHERE c.jid = ?`, contactJID,
	).Scan(&c.JID, &phone, &push, &full, &first, &business, &alias)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact %s: %w", contactJID, err)
	}
	c.Phone, c.PushName, c.FullName = phone.String, push.String, full.String
	c.FirstName, c.BusinessName, c.Alias = first.String, business.String, alias.String
	return &c, nil
}

// ContactDisplayName resolves the name to address chatJID by.
func (d *DB) ContactDisplayName(ctx context.Context, chatJID string) (string, error) {
	c, err := d.Contact(ctx, chatJID)
	if err != nil {
		return "", err
	}
	if c == nil {
		return jid.User(chatJID), nil
	}
	return c.DisplayName(), nil
}

// LastMessageTimestamp returns the newest message timestamp, and false if the
// store is empty.
func (d *DB) LastMessageTimestamp(ctx context.Context) (int64, bool, error) {
	var ts sql.NullInt64
	if err := d.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM messages`).Scan(&ts); err != nil {
		return 0, false, fmt.Errorf("querying last message timestamp: %w", err)
	}
	return ts.Int64, ts.Valid, nil
}
