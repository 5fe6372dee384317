package storage

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	path := t.TempDir() + "/app.db"

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if err := s1.SetSetting(SettingAutoResponseEnabled, "false"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}

	// The seed must not overwrite an operator's choice on reopen.
	v, err := s2.GetSetting(SettingAutoResponseEnabled)
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "false" {
		t.Errorf("kill switch = %q after reopen, want false", v)
	}
}

func TestKillSwitchSeeded(t *testing.T) {
	s := openTestStore(t)

	v, err := s.GetSetting(SettingAutoResponseEnabled)
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "true" {
		t.Errorf("auto_response_enabled = %q, want true", v)
	}
}

func TestSettingNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSetting("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSettingRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetSetting(SettingLastCheckTS, "100"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(SettingLastCheckTS, "200"); err != nil {
		t.Fatal(err)
	}
	v, err := s.GetSetting(SettingLastCheckTS)
	if err != nil {
		t.Fatal(err)
	}
	if v != "200" {
		t.Errorf("value = %q, want 200", v)
	}
}

func TestSaveChatConfig_InsertAndUpdate(t *testing.T) {
	s := openTestStore(t)

	maxDaily := 5
	c, err := s.SaveChatConfig(ChatConfig{
		ChatJID:               "111@s.whatsapp.net",
		Enabled:               true,
		RequireApproval:       true,
		MaxDailyResponses:     &maxDaily,
		ContextWindowMessages: 10,
	})
	if err != nil {
		t.Fatalf("SaveChatConfig: %v", err)
	}
	if c.ID == 0 || !c.Enabled || c.MaxDailyResponses == nil || *c.MaxDailyResponses != 5 {
		t.Errorf("unexpected config after insert: %+v", c)
	}
	if c.DailyCountResetAt != nil {
		t.Errorf("DailyCountResetAt = %v, want nil", c.DailyCountResetAt)
	}

	if err := s.IncrementDailyCount(c.ChatJID); err != nil {
		t.Fatalf("IncrementDailyCount: %v", err)
	}

	c.Enabled = false
	c.MaxDailyResponses = nil
	c2, err := s.SaveChatConfig(c)
	if err != nil {
		t.Fatalf("SaveChatConfig update: %v", err)
	}
	if c2.ID != c.ID {
		t.Errorf("ID changed on update: %d -> %d", c.ID, c2.ID)
	}
	if c2.Enabled || c2.MaxDailyResponses != nil {
		t.Errorf("update not applied: %+v", c2)
	}
	if c2.DailyResponseCount != 1 {
		t.Errorf("DailyResponseCount = %d, want 1 (save must not touch counters)", c2.DailyResponseCount)
	}
}

func TestStyleProfileReferencesEnforced(t *testing.T) {
	s := openTestStore(t)

	missing := int64(99)
	if ok, err := s.StyleProfileExists(missing); err != nil || ok {
		t.Fatalf("StyleProfileExists(99) = %v, %v", ok, err)
	}
	if _, err := s.SaveChatConfig(ChatConfig{ChatJID: "111@s.whatsapp.net", ContextWindowMessages: 10, StyleProfileID: &missing}); err == nil {
		t.Fatal("saved a config pointing at a missing style profile")
	}

	res, err := s.db.Exec(`INSERT INTO style_profiles (name, system_prompt, created_at, updated_at)
		VALUES ('formal', 'no emoji', ?, ?)`, formatTime(time.Now()), formatTime(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	id, _ := res.LastInsertId()
	if ok, err := s.StyleProfileExists(id); err != nil || !ok {
		t.Fatalf("StyleProfileExists(%d) = %v, %v", id, ok, err)
	}
	c, err := s.SaveChatConfig(ChatConfig{ChatJID: "111@s.whatsapp.net", ContextWindowMessages: 10, StyleProfileID: &id})
	if err != nil {
		t.Fatalf("SaveChatConfig with known profile: %v", err)
	}
	if c.StyleProfileID == nil || *c.StyleProfileID != id {
		t.Errorf("StyleProfileID = %v, want %d", c.StyleProfileID, id)
	}
}

func TestGetChatConfigNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetChatConfig("nobody@s.whatsapp.net")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResetDailyCount(t *testing.T) {
	s := openTestStore(t)

	jid := "111@s.whatsapp.net"
	if _, err := s.SaveChatConfig(ChatConfig{ChatJID: jid, Enabled: true, ContextWindowMessages: 10}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementDailyCount(jid); err != nil {
			t.Fatal(err)
		}
	}

	midnight := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	if err := s.ResetDailyCount(jid, midnight); err != nil {
		t.Fatalf("ResetDailyCount: %v", err)
	}

	c, err := s.GetChatConfig(jid)
	if err != nil {
		t.Fatal(err)
	}
	if c.DailyResponseCount != 0 {
		t.Errorf("DailyResponseCount = %d, want 0", c.DailyResponseCount)
	}
	if c.DailyCountResetAt == nil || !c.DailyCountResetAt.Equal(midnight) {
		t.Errorf("DailyCountResetAt = %v, want %v", c.DailyCountResetAt, midnight)
	}

	if err := s.ResetDailyCount("missing@s.whatsapp.net", midnight); !errors.Is(err, ErrNotFound) {
		t.Errorf("reset missing: err = %v, want ErrNotFound", err)
	}
}

func TestAppendLogAndCountApproved(t *testing.T) {
	s := openTestStore(t)

	jid := "111@s.whatsapp.net"
	for i, approved := range []bool{true, false, true} {
		if _, err := s.AppendLog(LogEntry{
			ChatJID:           jid,
			TriggerMessageID:  "m" + string(rune('a'+i)),
			ResponseMessageID: "r",
			Approved:          approved,
		}); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}
	if _, err := s.AppendLog(LogEntry{ChatJID: "222@s.whatsapp.net", TriggerMessageID: "x", Approved: true}); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountApproved(jid)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountApproved = %d, want 2", n)
	}

	entries, err := s.ListLog(jid, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("ListLog returned %d entries, want 3", len(entries))
	}
}

func insertPending(t *testing.T, s *Store, jid string, createdAt time.Time) int64 {
	t.Helper()
	id, err := s.InsertQueueItem(QueueItem{
		ChatJID:          jid,
		TriggerMessageID: "trigger",
		ProposedResponse: "hello",
		CreatedAt:        createdAt,
		ExpiresAt:        createdAt.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("InsertQueueItem: %v", err)
	}
	return id
}

func TestListQueueItems_OrderedOldestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	id2 := insertPending(t, s, "111@s.whatsapp.net", base.Add(2*time.Minute))
	id1 := insertPending(t, s, "111@s.whatsapp.net", base)

	items, err := s.ListQueueItems(StatusPending, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID != id1 || items[1].ID != id2 {
		t.Errorf("order = [%d %d], want [%d %d]", items[0].ID, items[1].ID, id1, id2)
	}

	n, err := s.CountPending("111@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountPending = %d, want 2", n)
	}
}

func TestClaimQueueItem_OnlyOnce(t *testing.T) {
	s := openTestStore(t)
	id := insertPending(t, s, "111@s.whatsapp.net", time.Now())

	q, err := s.ClaimQueueItem(id, StatusRejected, time.Now())
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if q.Status != StatusRejected || q.ResolvedAt == nil {
		t.Errorf("claimed item = %+v", q)
	}

	if _, err := s.ClaimQueueItem(id, StatusApproved, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second claim err = %v, want ErrNotFound", err)
	}
}

func TestClaimQueueItem_Concurrent(t *testing.T) {
	s := openTestStore(t)
	id := insertPending(t, s, "111@s.whatsapp.net", time.Now())

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimQueueItem(id, StatusApproved, time.Now())
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestClaimQueueItem_Expired(t *testing.T) {
	s := openTestStore(t)
	created := time.Now().Add(-25 * time.Hour)
	id := insertPending(t, s, "111@s.whatsapp.net", created)

	if _, err := s.ClaimQueueItem(id, StatusApproved, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("claim expired: err = %v, want ErrNotFound", err)
	}

	n, err := s.ExpirePending(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ExpirePending = %d, want 1", n)
	}
	q, err := s.GetQueueItem(id)
	if err != nil {
		t.Fatal(err)
	}
	if q.Status != StatusExpired {
		t.Errorf("status = %q, want expired", q.Status)
	}
}

func TestReleaseQueueItem(t *testing.T) {
	s := openTestStore(t)
	id := insertPending(t, s, "111@s.whatsapp.net", time.Now())

	q, err := s.ClaimQueueItem(id, StatusApproved, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseQueueItem(id, time.Now().Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("release with wrong stamp: err = %v, want ErrNotFound", err)
	}
	if err := s.ReleaseQueueItem(id, *q.ResolvedAt); err != nil {
		t.Fatalf("ReleaseQueueItem: %v", err)
	}

	got, err := s.GetQueueItem(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPending || got.ResolvedAt != nil {
		t.Errorf("after release: %+v", got)
	}
}

func TestSetQueueResponse(t *testing.T) {
	s := openTestStore(t)
	id := insertPending(t, s, "111@s.whatsapp.net", time.Now())

	if err := s.SetQueueResponse(id, "edited"); !errors.Is(err, ErrNotFound) {
		t.Errorf("set on pending: err = %v, want ErrNotFound", err)
	}
	if _, err := s.ClaimQueueItem(id, StatusApproved, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetQueueResponse(id, "edited"); err != nil {
		t.Fatal(err)
	}
	q, err := s.GetQueueItem(id)
	if err != nil {
		t.Fatal(err)
	}
	if q.ProposedResponse != "edited" {
		t.Errorf("ProposedResponse = %q, want edited", q.ProposedResponse)
	}
}
