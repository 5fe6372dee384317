package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adaofeliz/whatsapp-agent-web/internal/autoreply"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store, *fakeSender) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	snd := &fakeSender{}
	return MCPDeps{
		Queue:  autoreply.NewQueue(store, snd),
		Config: autoreply.NewConfigService(store),
		Poller: &fakePoller{},
	}, store, snd
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func seedPending(t *testing.T, store *storage.Store, proposal string) int64 {
	t.Helper()
	now := time.Now()
	id, err := store.InsertQueueItem(storage.QueueItem{
		ChatJID: chatA, TriggerMessageID: "trig", ProposedResponse: proposal,
		CreatedAt: now, ExpiresAt: now.Add(autoreply.QueueTTL),
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestMCPTool_ListApprovalQueue(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	seedPending(t, store, "see you at 8")

	result, err := mcpListQueue(deps)(context.Background(), makeCallToolRequest("list_approval_queue", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var items []storage.QueueItem
	if err := json.Unmarshal([]byte(toolText(t, result)), &items); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(items) != 1 || items[0].ProposedResponse != "see you at 8" {
		t.Fatalf("items = %+v", items)
	}
}

func TestMCPTool_ResolveApproval(t *testing.T) {
	deps, store, snd := newTestMCPDeps(t)
	id := seedPending(t, store, "original")

	req := makeCallToolRequest("resolve_approval", map[string]interface{}{
		"id":          float64(id),
		"action":      "approve",
		"edited_text": "edited",
	})
	result, err := mcpResolve(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if len(snd.sent) != 1 || snd.sent[0] != chatA+"|edited" {
		t.Errorf("sent = %v", snd.sent)
	}

	result, _ = mcpResolve(deps)(context.Background(), req)
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("second resolve = %q, want not found error", toolText(t, result))
	}
}

func TestMCPTool_ResolveApproval_MissingArgs(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)

	result, err := mcpResolve(deps)(context.Background(), makeCallToolRequest("resolve_approval", map[string]interface{}{"action": "reject"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for missing id")
	}
}

func TestMCPTool_SetAutoResponse(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)

	req := makeCallToolRequest("set_auto_response", map[string]interface{}{
		"chat_jid":            chatA,
		"enabled":             true,
		"require_approval":    false,
		"max_daily_responses": float64(4),
	})
	result, err := mcpSetAutoResponse(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	cfg, err := store.GetChatConfig(chatA)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Enabled || cfg.RequireApproval || cfg.MaxDailyResponses == nil || *cfg.MaxDailyResponses != 4 {
		t.Errorf("cfg = %+v", cfg)
	}

	bad := makeCallToolRequest("set_auto_response", map[string]interface{}{"chat_jid": "bob", "enabled": true})
	result, _ = mcpSetAutoResponse(deps)(context.Background(), bad)
	if !result.IsError {
		t.Error("expected validation error for bad chat id")
	}
}

func TestMCPTool_SetKillSwitch(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)

	result, err := mcpSetKillSwitch(deps)(context.Background(), makeCallToolRequest("set_kill_switch", map[string]interface{}{"enabled": false}))
	if err != nil || result.IsError {
		t.Fatalf("set_kill_switch failed: %v", err)
	}
	if v, _ := store.GetSetting(storage.SettingAutoResponseEnabled); v != "false" {
		t.Errorf("setting = %q, want false", v)
	}
}

func TestMCPTool_PollNow(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)

	result, err := mcpPollNow(deps)(context.Background(), makeCallToolRequest("poll_now", nil))
	if err != nil || result.IsError {
		t.Fatalf("poll_now failed: %v", err)
	}
	var sum autoreply.CycleSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.CycleID != "c1" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestMCPResource_Pending(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	seedPending(t, store, "a")
	seedPending(t, store, "b")

	contents, err := mcpResourcePending(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "autoreply://queue/pending"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var items []storage.QueueItem
	if err := json.Unmarshal([]byte(tc.Text), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("items = %d, want 2", len(items))
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
