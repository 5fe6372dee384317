package wacli

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

const testSchema = `
CREATE TABLE messages (
	rowid INTEGER PRIMARY KEY,
	chat_jid TEXT NOT NULL,
	msg_id TEXT NOT NULL,
	sender_jid TEXT,
	ts INTEGER NOT NULL,
	from_me INTEGER NOT NULL DEFAULT 0,
	text TEXT
);
CREATE TABLE contacts (
	jid TEXT PRIMARY KEY,
	phone TEXT,
	push_name TEXT,
	full_name TEXT,
	first_name TEXT,
	business_name TEXT,
	updated_at INTEGER
);
CREATE TABLE contact_aliases (
	jid TEXT PRIMARY KEY,
	alias TEXT,
	notes TEXT,
	updated_at INTEGER
);
`

const (
	alice = "111@s.whatsapp.net"
	bob   = "222@s.whatsapp.net"
	group = "999@g.us"
)

// seedDB writes a wacli-shaped database and returns its path.
func seedDB(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wacli.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seeding %q: %v", s, err)
		}
	}
	return path
}

func openTestDB(t *testing.T, stmts ...string) *DB {
	t.Helper()
	d, err := Open(seedDB(t, stmts...))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_MissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.db")); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestOpen_ReadOnly(t *testing.T) {
	d := openTestDB(t)
	if _, err := d.db.Exec(`INSERT INTO messages (chat_jid, msg_id, ts) VALUES ('x', 'y', 1)`); err == nil {
		t.Fatal("write succeeded on read-only handle")
	}
}

func TestUnseenInbound_Filters(t *testing.T) {
	d := openTestDB(t,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+alice+`', 'old', 100, 0, 'old')`,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+alice+`', 'a2', 300, 0, 'second')`,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+bob+`', 'b1', 200, 0, 'first')`,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+alice+`', 'mine', 250, 1, 'outbound')`,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+group+`', 'g1', 260, 0, 'group')`,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+bob+`', 'media', 270, 0, NULL)`,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+bob+`', 'empty', 280, 0, '')`,
	)

	msgs, err := d.UnseenInbound(context.Background(), 100, 100)
	if err != nil {
		t.Fatalf("UnseenInbound: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].MsgID != "b1" || msgs[1].MsgID != "a2" {
		t.Errorf("order = [%s %s], want [b1 a2]", msgs[0].MsgID, msgs[1].MsgID)
	}
}

func TestRecentMessages_NewestFirst(t *testing.T) {
	d := openTestDB(t,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+alice+`', 'm1', 1, 0, 'one')`,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+alice+`', 'm2', 2, 1, 'two')`,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+alice+`', 'm3', 3, 0, 'three')`,
	)

	msgs, err := d.RecentMessages(context.Background(), alice, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].MsgID != "m3" || msgs[1].MsgID != "m2" {
		t.Fatalf("got %+v", msgs)
	}
	if !msgs[1].FromMe {
		t.Error("m2 should be from me")
	}
}

func TestMessage_Lookup(t *testing.T) {
	d := openTestDB(t,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+alice+`', 'm1', 1, 0, 'one')`,
	)
	ctx := context.Background()

	m, err := d.Message(ctx, alice, "m1")
	if err != nil || m == nil || m.Text != "one" {
		t.Fatalf("Message = %+v, %v", m, err)
	}
	m, err = d.Message(ctx, alice, "missing")
	if err != nil || m != nil {
		t.Fatalf("missing Message = %+v, %v", m, err)
	}
}

func TestContactDisplayName(t *testing.T) {
	d := openTestDB(t,
		`INSERT INTO contacts (jid, phone, push_name, full_name) VALUES ('`+alice+`', '111', 'Ali', 'Alice Smith')`,
		`INSERT INTO contact_aliases (jid, alias) VALUES ('`+alice+`', '  Mom ')`,
		`INSERT INTO contacts (jid, phone, push_name, full_name, business_name) VALUES ('`+bob+`', '222', '', ' ', 'Bob Inc')`,
	)
	ctx := context.Background()

	tests := []struct {
		jid  string
		want string
	}{
		{alice, "Mom"},
		{bob, "Bob Inc"},
		{"333@s.whatsapp.net", "333"},
	}
	for _, tt := range tests {
		got, err := d.ContactDisplayName(ctx, tt.jid)
		if err != nil {
			t.Fatalf("ContactDisplayName(%s): %v", tt.jid, err)
		}
		if got != tt.want {
			t.Errorf("ContactDisplayName(%s) = %q, want %q", tt.jid, got, tt.want)
		}
	}
}

func TestDisplayName_PhoneFallback(t *testing.T) {
	c := &Contact{JID: alice, Phone: "+1 111"}
	if got := c.DisplayName(); got != "+1 111" {
		t.Errorf("DisplayName = %q", got)
	}
}

func TestLastMessageTimestamp(t *testing.T) {
	ctx := context.Background()

	empty := openTestDB(t)
	if _, ok, err := empty.LastMessageTimestamp(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	d := openTestDB(t,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+alice+`', 'm1', 10, 0, 'one')`,
		`INSERT INTO messages (chat_jid, msg_id, ts, from_me, text) VALUES ('`+bob+`', 'm2', 42, 0, 'two')`,
	)
	ts, ok, err := d.LastMessageTimestamp(ctx)
	if err != nil || !ok || ts != 42 {
		t.Fatalf("LastMessageTimestamp = %d, %v, %v", ts, ok, err)
	}
}
